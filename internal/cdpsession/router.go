// Package cdpsession implements the SessionRouter of spec.md §4.2: it maps
// sessionId to the handler set registered for that session, and lets a
// session issue requests carrying its own sessionId on the shared
// Transport. This module speaks flat-session mode exclusively (spec.md §6),
// so every session is a first-class endpoint on one Transport — there is no
// nested/forwarded framing to manage.
package cdpsession

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/target"
	"go.uber.org/zap"

	"reach/internal/transport"
)

// Handler processes one session-scoped event.
type Handler func(method string, params json.RawMessage)

type subKey struct {
	sessionID string
	method    string
}

// Router is the SessionRouter: it owns no Sessions itself (TargetTracker
// does), only the per-(session,event) handler registry and the attach/
// detach calls that create and destroy sessionIds on the Transport.
type Router struct {
	tr  *transport.Transport
	log *zap.Logger

	mu   sync.RWMutex
	subs map[subKey][]Handler
}

// New wires a Router to tr, installing it as the Transport's session
// dispatcher. tr must not already have a dispatcher installed.
func New(tr *transport.Transport, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{tr: tr, log: log, subs: make(map[subKey][]Handler)}
	tr.SetDispatcher(r.dispatch)
	return r
}

func (r *Router) dispatch(sessionID, method string, params json.RawMessage) {
	r.mu.RLock()
	handlers := append([]Handler(nil), r.subs[subKey{sessionID, method}]...)
	r.mu.RUnlock()
	for _, h := range handlers {
		r.safeInvoke(h, method, params)
	}
}

func (r *Router) safeInvoke(h Handler, method string, params json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("session handler panicked", zap.String("method", method), zap.Any("recover", rec))
		}
	}()
	h(method, params)
}

// On registers a handler for (sessionID, event), invoked in registration
// order as events for that session arrive.
func (r *Router) On(sessionID, method string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := subKey{sessionID, method}
	r.subs[k] = append(r.subs[k], h)
}

// Off removes a handler previously passed to On.
func (r *Router) Off(sessionID, method string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := subKey{sessionID, method}
	list := r.subs[k]
	for i := range list {
		if sameHandler(list[i], h) {
			r.subs[k] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func sameHandler(a, b Handler) bool {
	return fmt.Sprintf("%p", a) == fmt.Sprintf("%p", b)
}

// Attach issues Target.attachToTarget in flat-session mode and returns the
// new sessionId.
func (r *Router) Attach(ctx context.Context, targetID target.ID) (target.SessionID, error) {
	params, err := json.Marshal(target.AttachToTargetParams{TargetID: targetID, Flatten: true})
	if err != nil {
		return "", err
	}
	res, err := r.tr.Send(ctx, "Target.attachToTarget", "", params)
	if err != nil {
		return "", err
	}
	var ret target.AttachToTargetReturns
	if err := json.Unmarshal(res, &ret); err != nil {
		return "", err
	}
	return ret.SessionID, nil
}

// Detach issues Target.detachFromTarget and drops every handler registered
// for sessionID. The handlers are dropped even when the command fails (e.g.
// for an already-gone session); that failure is still returned.
func (r *Router) Detach(ctx context.Context, sessionID target.SessionID) error {
	params, err := json.Marshal(target.DetachFromTargetParams{SessionID: sessionID})
	if err != nil {
		return err
	}
	_, err = r.tr.Send(ctx, "Target.detachFromTarget", "", params)

	r.mu.Lock()
	for k := range r.subs {
		if k.sessionID == string(sessionID) {
			delete(r.subs, k)
		}
	}
	r.mu.Unlock()

	return err
}

// Send issues method on behalf of sessionID (empty string targets the root
// browser session, per spec.md §3's Message entity).
func (r *Router) Send(ctx context.Context, sessionID target.SessionID, method string, params json.RawMessage) (json.RawMessage, error) {
	return r.tr.Send(ctx, method, string(sessionID), params)
}
