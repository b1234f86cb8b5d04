// Package network implements the NetworkObserver of spec.md §4.4: it
// observes, filters, waits on, and streams network activity for one
// attached Session, holding a bounded insertion-ordered ring of entries.
package network

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	cdpnetwork "github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"go.uber.org/zap"

	"reach/internal/cdpsession"
)

// BodyFetcher fetches a response body out of band (normally
// Network.getResponseBody on the owning session).
type BodyFetcher func(ctx context.Context, requestID string) ([]byte, error)

type waitRequest struct {
	glob   string
	filter *Filter
	result chan RequestInfo
}

type waitResponse struct {
	glob   string
	filter *Filter
	result chan ResponseInfo
}

type waitEntry struct {
	glob   string
	filter *Filter
	result chan Entry
}

// Observer is the NetworkObserver bound to one session.
type Observer struct {
	router    *cdpsession.Router
	sessionID string
	log       *zap.Logger
	fetchBody BodyFetcher

	maxEntries       int
	autoCaptureBody  bool

	mu      sync.Mutex
	order   []string
	entries map[string]*Entry
	filter  *Filter

	lastComplete time.Time

	streamMu sync.Mutex
	streams  []*streamSub

	waitMu        sync.Mutex
	requestWaits  []*waitRequest
	responseWaits []*waitResponse
	entryWaits    []*waitEntry
	idleWaits     []*idleWait

	started bool
}

type idleWait struct {
	idleWindow time.Duration
	result     chan struct{}
}

type streamSub struct {
	filter *Filter
	ch     chan Entry
}

const defaultStreamBuffer = 64

// Options configures Observer.Start per spec.md §4.4's start() parameters.
type Options struct {
	MaxEntries      int
	AutoCaptureBody bool
}

// New constructs an Observer for one attached session. fetchBody may be nil
// if body capture is never requested.
func New(router *cdpsession.Router, sessionID string, log *zap.Logger, fetchBody BodyFetcher) *Observer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Observer{
		router:    router,
		sessionID: sessionID,
		log:       log,
		fetchBody: fetchBody,
		entries:   make(map[string]*Entry),
	}
}

// Start enables the Network domain and installs event subscriptions.
func (o *Observer) Start(ctx context.Context, opts Options) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.maxEntries = opts.MaxEntries
	if o.maxEntries <= 0 {
		o.maxEntries = 1000
	}
	o.autoCaptureBody = opts.AutoCaptureBody
	o.started = true
	o.mu.Unlock()

	o.router.On(o.sessionID, "Network.requestWillBeSent", o.onRequestWillBeSent)
	o.router.On(o.sessionID, "Network.responseReceived", o.onResponseReceived)
	o.router.On(o.sessionID, "Network.loadingFinished", o.onLoadingFinished)
	o.router.On(o.sessionID, "Network.loadingFailed", o.onLoadingFailed)

	params, _ := json.Marshal(cdpnetwork.EnableParams{})
	_, err := o.router.Send(ctx, target.SessionID(o.sessionID), "Network.enable", params)
	return err
}

// Stop disables the Network domain and removes subscriptions.
func (o *Observer) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.started = false
	o.mu.Unlock()

	o.router.Off(o.sessionID, "Network.requestWillBeSent", o.onRequestWillBeSent)
	o.router.Off(o.sessionID, "Network.responseReceived", o.onResponseReceived)
	o.router.Off(o.sessionID, "Network.loadingFinished", o.onLoadingFinished)
	o.router.Off(o.sessionID, "Network.loadingFailed", o.onLoadingFailed)

	_, err := o.router.Send(ctx, target.SessionID(o.sessionID), "Network.disable", nil)
	return err
}

// SetFilter replaces the effective filter used at both request and
// response stage for future events. It does not retroactively evaluate
// entries already stored.
func (o *Observer) SetFilter(f *Filter) {
	o.mu.Lock()
	o.filter = f
	o.mu.Unlock()
}

func (o *Observer) onRequestWillBeSent(_ string, params json.RawMessage) {
	var ev cdpnetwork.EventRequestWillBeSent
	if err := json.Unmarshal(params, &ev); err != nil {
		o.log.Warn("malformed requestWillBeSent dropped", zap.Error(err))
		return
	}
	if ev.Request == nil {
		return
	}
	req := RequestInfo{
		Method:       ev.Request.Method,
		URL:          ev.Request.URL,
		Headers:      headersFromCDP(ev.Request.Headers),
		PostData:     ev.Request.PostData,
		ResourceKind: ResourceKind(ev.Type.String()),
	}

	o.mu.Lock()
	f := o.filter
	o.mu.Unlock()
	if f != nil && !f.MatchesRequest(req) {
		return
	}

	entry := &Entry{
		RequestID: string(ev.RequestID),
		Request:   req,
		State:     StateInFlight,
		StartedAt: time.Now(),
	}

	o.mu.Lock()
	o.entries[entry.RequestID] = entry
	o.order = append(o.order, entry.RequestID)
	o.evictIfOverLocked()
	o.mu.Unlock()

	o.resolveRequestWaiters(req)
}

func (o *Observer) evictIfOverLocked() {
	for len(o.order) > o.maxEntries {
		oldest := o.order[0]
		o.order = o.order[1:]
		delete(o.entries, oldest)
	}
}

func (o *Observer) onResponseReceived(_ string, params json.RawMessage) {
	var ev cdpnetwork.EventResponseReceived
	if err := json.Unmarshal(params, &ev); err != nil {
		o.log.Warn("malformed responseReceived dropped", zap.Error(err))
		return
	}
	if ev.Response == nil {
		return
	}
	resp := ResponseInfo{
		URL:               ev.Response.URL,
		Status:            int(ev.Response.Status),
		Headers:           headersFromCDP(ev.Response.Headers),
		MimeType:          ev.Response.MimeType,
		FromCache:         ev.Response.FromDiskCache || ev.Response.FromPrefetchCache,
		FromServiceWorker: ev.Response.FromServiceWorker,
	}

	o.mu.Lock()
	f := o.filter
	entry, ok := o.entries[string(ev.RequestID)]
	o.mu.Unlock()
	if !ok {
		return
	}

	if f != nil && !f.MatchesResponse(resp) {
		o.mu.Lock()
		delete(o.entries, string(ev.RequestID))
		o.removeFromOrderLocked(string(ev.RequestID))
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	entry.Response = &resp
	entry.State = StateResponded
	o.mu.Unlock()

	o.resolveResponseWaiters(resp)
}

func (o *Observer) removeFromOrderLocked(requestID string) {
	for i, id := range o.order {
		if id == requestID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			return
		}
	}
}

func (o *Observer) onLoadingFinished(_ string, params json.RawMessage) {
	var ev cdpnetwork.EventLoadingFinished
	if err := json.Unmarshal(params, &ev); err != nil {
		o.log.Warn("malformed loadingFinished dropped", zap.Error(err))
		return
	}
	o.finish(string(ev.RequestID), StateFinished, "")
}

func (o *Observer) onLoadingFailed(_ string, params json.RawMessage) {
	var ev cdpnetwork.EventLoadingFailed
	if err := json.Unmarshal(params, &ev); err != nil {
		o.log.Warn("malformed loadingFailed dropped", zap.Error(err))
		return
	}
	o.finish(string(ev.RequestID), StateFailed, ev.ErrorText)
}

func (o *Observer) finish(requestID string, state EntryState, errText string) {
	o.mu.Lock()
	entry, ok := o.entries[requestID]
	if ok {
		entry.State = state
		entry.Err = errText
		entry.FinishedAt = time.Now()
	}
	autoCapture := o.autoCaptureBody
	o.lastComplete = time.Now()
	o.mu.Unlock()
	if !ok {
		return
	}

	if autoCapture && state == StateFinished && o.fetchBody != nil {
		go o.captureBody(entry.RequestID)
	}

	snap := o.snapshotEntry(entry)
	o.resolveEntryWaiters(snap)
	o.publishToStreams(snap)
	o.resolveIdleWaiters()
}

func (o *Observer) snapshotEntry(e *Entry) Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := *e
	if e.Response != nil {
		r := *e.Response
		cp.Response = &r
	}
	return cp
}

func (o *Observer) captureBody(requestID string) {
	body, err := o.fetchBody(context.Background(), requestID)
	if err != nil {
		return
	}
	o.mu.Lock()
	entry, ok := o.entries[requestID]
	if ok && entry.Response != nil {
		entry.Response.Body = body
	}
	o.mu.Unlock()
}

func headersFromCDP(h cdpnetwork.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

