// Package target implements the TargetTracker of spec.md §4.3: discovery
// and lifetime tracking of pages, iframes, and workers inside one
// BrowserHandle, plus the per-Context page set they belong to.
package target

import (
	"context"
	"encoding/json"
	"sync"

	cdp "github.com/chromedp/cdproto/cdp"
	cdptarget "github.com/chromedp/cdproto/target"
	"go.uber.org/zap"

	"reach/internal/cdpsession"
)

// Kind mirrors spec.md §3's target_kind enumeration.
type Kind string

const (
	KindPage            Kind = "page"
	KindIframe          Kind = "iframe"
	KindWorker          Kind = "worker"
	KindServiceWorker   Kind = "service_worker"
	KindBackgroundPage  Kind = "background_page"
	KindOther           Kind = "other"
)

func kindFromProtocol(t string) Kind {
	switch t {
	case "page":
		return KindPage
	case "iframe":
		return KindIframe
	case "worker", "shared_worker":
		return KindWorker
	case "service_worker":
		return KindServiceWorker
	case "background_page":
		return KindBackgroundPage
	default:
		return KindOther
	}
}

// Lifecycle is the Session lifecycle_state of spec.md §3.
type Lifecycle string

const (
	LifecycleAttached Lifecycle = "attached"
	LifecycleDetached Lifecycle = "detached"
	LifecycleCrashed  Lifecycle = "crashed"
)

// Info is the tracker's materialized view of one target: the merge of
// spec.md §3's Session and Page entities that TargetTracker is responsible
// for keeping current.
type Info struct {
	TargetID  cdptarget.ID
	SessionID cdptarget.SessionID // empty until lazily attached
	Kind      Kind
	ContextID cdp.BrowserContextID
	URL       string
	Title     string
	OpenerID  cdptarget.ID
	Lifecycle Lifecycle
}

// Handlers are the subscriber callbacks spec.md §4.3 surfaces. Every
// handler is optional; nil entries are skipped. Handlers are invoked
// synchronously from the Transport's dispatch path, so they must not block.
type Handlers struct {
	OnTargetCreated    func(Info)
	OnTargetInfoChanged func(Info)
	OnTargetDestroyed  func(targetID cdptarget.ID)
	OnTargetCrashed    func(Info)
}

// Tracker is the TargetTracker, scoped to one BrowserHandle's Transport.
type Tracker struct {
	router *cdpsession.Router
	log    *zap.Logger

	mu       sync.RWMutex
	byTarget map[cdptarget.ID]*Info
	handlers []Handlers

	activePage map[cdp.BrowserContextID]cdptarget.ID
}

// New constructs a Tracker. Callers must call EnableAutoAttach before
// targets are expected to be discovered.
func New(router *cdpsession.Router, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tracker{
		router:     router,
		log:        log,
		byTarget:   make(map[cdptarget.ID]*Info),
		activePage: make(map[cdp.BrowserContextID]cdptarget.ID),
	}
	router.On("", "Target.targetCreated", t.onTargetCreated)
	router.On("", "Target.targetInfoChanged", t.onTargetInfoChanged)
	router.On("", "Target.targetDestroyed", t.onTargetDestroyed)
	router.On("", "Target.targetCrashed", t.onTargetCrashed)
	return t
}

// Subscribe registers h for every future target lifecycle event. There is
// no Unsubscribe: the tracker's handler set is fixed for its lifetime,
// matching how BrowserHandle/ContextController wire themselves up once at
// construction.
func (t *Tracker) Subscribe(h Handlers) {
	t.mu.Lock()
	t.handlers = append(t.handlers, h)
	t.mu.Unlock()
}

// EnableAutoAttach configures the browser to auto-attach (flat mode, no
// debugger pause) to every future target and turns on target discovery,
// per spec.md §4.3.
func (t *Tracker) EnableAutoAttach(ctx context.Context) error {
	saParams, err := json.Marshal(cdptarget.SetAutoAttachParams{
		AutoAttach:             true,
		WaitForDebuggerOnStart: false,
		Flatten:                true,
	})
	if err != nil {
		return err
	}
	if _, err := t.router.Send(ctx, "", "Target.setAutoAttach", saParams); err != nil {
		return err
	}

	sdParams, err := json.Marshal(cdptarget.SetDiscoverTargetsParams{Discover: true})
	if err != nil {
		return err
	}
	_, err = t.router.Send(ctx, "", "Target.setDiscoverTargets", sdParams)
	return err
}

// Refresh performs an explicit one-shot reconciliation: reads the current
// target list and diffs it against the internal view, emitting
// target_created for late-discovered targets and target_destroyed for
// ones that disappeared without an event (spec.md §4.3).
func (t *Tracker) Refresh(ctx context.Context) error {
	res, err := t.router.Send(ctx, "", "Target.getTargets", nil)
	if err != nil {
		return err
	}
	var ret cdptarget.GetTargetsReturns
	if err := json.Unmarshal(res, &ret); err != nil {
		return err
	}

	seen := make(map[cdptarget.ID]bool, len(ret.TargetInfos))
	for _, ti := range ret.TargetInfos {
		seen[ti.TargetID] = true
		t.upsert(ti, true)
	}

	t.mu.Lock()
	var gone []cdptarget.ID
	for id := range t.byTarget {
		if !seen[id] {
			gone = append(gone, id)
		}
	}
	t.mu.Unlock()

	for _, id := range gone {
		t.onTargetDestroyedID(id)
	}
	return nil
}

func (t *Tracker) upsert(ti *cdptarget.Info, fromRefresh bool) Info {
	t.mu.Lock()
	existing, had := t.byTarget[ti.TargetID]
	info := Info{
		TargetID:  ti.TargetID,
		Kind:      kindFromProtocol(string(ti.Type)),
		ContextID: ti.BrowserContextID,
		URL:       ti.URL,
		Title:     ti.Title,
		OpenerID:  ti.OpenerID,
		Lifecycle: LifecycleAttached,
	}
	if had {
		info.SessionID = existing.SessionID
		if existing.Lifecycle == LifecycleCrashed {
			info.Lifecycle = LifecycleCrashed
		}
	}
	cp := info
	t.byTarget[ti.TargetID] = &cp
	t.mu.Unlock()

	if !had {
		t.notifyCreated(info)
	} else {
		t.notifyInfoChanged(info)
	}
	return info
}

// AttachSessionID records a session id obtained out of band (e.g. via
// Target.attachToTarget) against an already-tracked target, lazily
// attaching on first use per spec.md §4.3's Page.
func (t *Tracker) AttachSessionID(targetID cdptarget.ID, sessionID cdptarget.SessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if info, ok := t.byTarget[targetID]; ok {
		info.SessionID = sessionID
		info.Lifecycle = LifecycleAttached
	}
}

// Get returns the tracked Info for targetID, if any.
func (t *Tracker) Get(targetID cdptarget.ID) (Info, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.byTarget[targetID]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// ForContext returns every tracked target belonging to contextID.
func (t *Tracker) ForContext(contextID cdp.BrowserContextID) []Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Info
	for _, info := range t.byTarget {
		if info.ContextID == contextID {
			out = append(out, *info)
		}
	}
	return out
}

// SetActivePage records the informational focus hint for contextID,
// per spec.md §4.3's "eventually-consistent" activate semantics.
func (t *Tracker) SetActivePage(contextID cdp.BrowserContextID, targetID cdptarget.ID) {
	t.mu.Lock()
	t.activePage[contextID] = targetID
	t.mu.Unlock()
}

// ActivePage returns the current focus hint for contextID, if any.
func (t *Tracker) ActivePage(contextID cdp.BrowserContextID) (cdptarget.ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.activePage[contextID]
	return id, ok
}

func (t *Tracker) onTargetCreated(_ string, params json.RawMessage) {
	var ev cdptarget.EventTargetCreated
	if err := json.Unmarshal(params, &ev); err != nil || ev.TargetInfo == nil {
		t.log.Warn("malformed targetCreated event dropped")
		return
	}
	t.upsert(ev.TargetInfo, false)
}

func (t *Tracker) onTargetInfoChanged(_ string, params json.RawMessage) {
	var ev cdptarget.EventTargetInfoChanged
	if err := json.Unmarshal(params, &ev); err != nil || ev.TargetInfo == nil {
		t.log.Warn("malformed targetInfoChanged event dropped")
		return
	}
	t.upsert(ev.TargetInfo, false)
}

func (t *Tracker) onTargetDestroyed(_ string, params json.RawMessage) {
	var ev cdptarget.EventTargetDestroyed
	if err := json.Unmarshal(params, &ev); err != nil {
		t.log.Warn("malformed targetDestroyed event dropped")
		return
	}
	t.onTargetDestroyedID(ev.TargetID)
}

func (t *Tracker) onTargetDestroyedID(id cdptarget.ID) {
	t.mu.Lock()
	delete(t.byTarget, id)
	for ctxID, active := range t.activePage {
		if active == id {
			delete(t.activePage, ctxID)
		}
	}
	t.mu.Unlock()

	t.mu.RLock()
	handlers := append([]Handlers(nil), t.handlers...)
	t.mu.RUnlock()
	for _, h := range handlers {
		if h.OnTargetDestroyed != nil {
			h.OnTargetDestroyed(id)
		}
	}
}

func (t *Tracker) onTargetCrashed(_ string, params json.RawMessage) {
	var ev cdptarget.EventTargetCrashed
	if err := json.Unmarshal(params, &ev); err != nil {
		t.log.Warn("malformed targetCrashed event dropped")
		return
	}
	t.mu.Lock()
	info, ok := t.byTarget[ev.TargetID]
	if ok {
		info.Lifecycle = LifecycleCrashed
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	t.notifyCrashed(*info)
}

func (t *Tracker) notifyCreated(info Info) {
	t.mu.RLock()
	handlers := append([]Handlers(nil), t.handlers...)
	t.mu.RUnlock()
	for _, h := range handlers {
		if h.OnTargetCreated != nil {
			h.OnTargetCreated(info)
		}
	}
}

func (t *Tracker) notifyInfoChanged(info Info) {
	t.mu.RLock()
	handlers := append([]Handlers(nil), t.handlers...)
	t.mu.RUnlock()
	for _, h := range handlers {
		if h.OnTargetInfoChanged != nil {
			h.OnTargetInfoChanged(info)
		}
	}
}

func (t *Tracker) notifyCrashed(info Info) {
	t.mu.RLock()
	handlers := append([]Handlers(nil), t.handlers...)
	t.mu.RUnlock()
	for _, h := range handlers {
		if h.OnTargetCrashed != nil {
			h.OnTargetCrashed(info)
		}
	}
}
