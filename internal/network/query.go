package network

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	cdpnetwork "github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"go.uber.org/zap"

	"reach/internal/corerrors"
)

// GetEntries returns a snapshot of stored entries, optionally filtered and
// optionally restricted to completed entries.
func (o *Observer) GetEntries(f *Filter, completeOnly bool) []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Entry, 0, len(o.order))
	for _, id := range o.order {
		e, ok := o.entries[id]
		if !ok {
			continue
		}
		if completeOnly && e.InFlight() {
			continue
		}
		if f != nil {
			if !f.MatchesRequest(e.Request) {
				continue
			}
			if e.Response != nil && !f.MatchesResponse(*e.Response) {
				continue
			}
		}
		cp := *e
		if e.Response != nil {
			r := *e.Response
			cp.Response = &r
		}
		out = append(out, cp)
	}
	return out
}

// GetRequests returns the request half of every stored entry matching f.
func (o *Observer) GetRequests(f *Filter) []RequestInfo {
	entries := o.GetEntries(f, false)
	out := make([]RequestInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Request)
	}
	return out
}

// GetResponses returns the response half of every stored entry with a
// response, matching f.
func (o *Observer) GetResponses(f *Filter) []ResponseInfo {
	entries := o.GetEntries(f, false)
	out := make([]ResponseInfo, 0, len(entries))
	for _, e := range entries {
		if e.Response != nil {
			out = append(out, *e.Response)
		}
	}
	return out
}

// WaitForRequest resolves with the first future request matching glob and
// filter, or corerrors.ErrTimeout at deadline.
func (o *Observer) WaitForRequest(ctx context.Context, glob string, f *Filter, deadline time.Duration) (RequestInfo, error) {
	w := &waitRequest{glob: glob, filter: f, result: make(chan RequestInfo, 1)}
	o.waitMu.Lock()
	o.requestWaits = append(o.requestWaits, w)
	o.waitMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	select {
	case r := <-w.result:
		return r, nil
	case <-ctx.Done():
		o.removeRequestWait(w)
		return RequestInfo{}, corerrors.ErrTimeout
	}
}

// WaitForResponse resolves with the first future response matching glob
// and filter, or corerrors.ErrTimeout at deadline.
func (o *Observer) WaitForResponse(ctx context.Context, glob string, f *Filter, deadline time.Duration) (ResponseInfo, error) {
	w := &waitResponse{glob: glob, filter: f, result: make(chan ResponseInfo, 1)}
	o.waitMu.Lock()
	o.responseWaits = append(o.responseWaits, w)
	o.waitMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	select {
	case r := <-w.result:
		return r, nil
	case <-ctx.Done():
		o.removeResponseWait(w)
		return ResponseInfo{}, corerrors.ErrTimeout
	}
}

// WaitForEntry resolves with the first future completed entry matching
// glob and filter, or corerrors.ErrTimeout at deadline.
func (o *Observer) WaitForEntry(ctx context.Context, glob string, f *Filter, deadline time.Duration) (Entry, error) {
	w := &waitEntry{glob: glob, filter: f, result: make(chan Entry, 1)}
	o.waitMu.Lock()
	o.entryWaits = append(o.entryWaits, w)
	o.waitMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	select {
	case e := <-w.result:
		return e, nil
	case <-ctx.Done():
		o.removeEntryWait(w)
		return Entry{}, corerrors.ErrTimeout
	}
}

// WaitForIdle resolves once idleWindow elapses with no entry completing,
// or fails with corerrors.ErrTimeout at deadline.
func (o *Observer) WaitForIdle(ctx context.Context, idleWindow, deadline time.Duration) error {
	w := &idleWait{idleWindow: idleWindow, result: make(chan struct{}, 1)}

	o.waitMu.Lock()
	o.idleWaits = append(o.idleWaits, w)
	o.waitMu.Unlock()

	overallCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	timer := time.NewTimer(idleWindow)
	defer timer.Stop()

	for {
		select {
		case <-w.result:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idleWindow)
		case <-timer.C:
			o.removeIdleWait(w)
			return nil
		case <-overallCtx.Done():
			o.removeIdleWait(w)
			return corerrors.ErrTimeout
		}
	}
}

// Stream returns a bounded channel of completed entries matching f. The
// channel is closed when ctx is done. Overflow drops the newest entry (the
// one being delivered) and logs a warning rather than blocking the
// dispatch path.
func (o *Observer) Stream(ctx context.Context, f *Filter) <-chan Entry {
	sub := &streamSub{filter: f, ch: make(chan Entry, defaultStreamBuffer)}
	o.streamMu.Lock()
	o.streams = append(o.streams, sub)
	o.streamMu.Unlock()

	go func() {
		<-ctx.Done()
		o.streamMu.Lock()
		for i, s := range o.streams {
			if s == sub {
				o.streams = append(o.streams[:i], o.streams[i+1:]...)
				break
			}
		}
		o.streamMu.Unlock()
		close(sub.ch)
	}()

	return sub.ch
}

// GetResponseBody returns a cached body if present, else fetches it via
// CDP. Returns (nil, nil) if unavailable.
func (o *Observer) GetResponseBody(ctx context.Context, requestID string) ([]byte, error) {
	o.mu.Lock()
	entry, ok := o.entries[requestID]
	if ok && entry.Response != nil && entry.Response.Body != nil {
		body := entry.Response.Body
		o.mu.Unlock()
		return body, nil
	}
	o.mu.Unlock()
	if !ok {
		return nil, nil
	}
	if o.fetchBody == nil {
		return nil, nil
	}
	body, err := o.fetchBody(ctx, requestID)
	if err != nil {
		return nil, nil
	}
	return body, nil
}

func (o *Observer) resolveRequestWaiters(req RequestInfo) {
	o.waitMu.Lock()
	var remaining []*waitRequest
	for _, w := range o.requestWaits {
		if globMatch(orStar(w.glob), req.URL) && (w.filter == nil || w.filter.MatchesRequest(req)) {
			select {
			case w.result <- req:
			default:
			}
			continue
		}
		remaining = append(remaining, w)
	}
	o.requestWaits = remaining
	o.waitMu.Unlock()
}

func (o *Observer) resolveResponseWaiters(resp ResponseInfo) {
	o.waitMu.Lock()
	var remaining []*waitResponse
	for _, w := range o.responseWaits {
		if globMatch(orStar(w.glob), resp.URL) && (w.filter == nil || w.filter.MatchesResponse(resp)) {
			select {
			case w.result <- resp:
			default:
			}
			continue
		}
		remaining = append(remaining, w)
	}
	o.responseWaits = remaining
	o.waitMu.Unlock()
}

func (o *Observer) resolveEntryWaiters(e Entry) {
	o.waitMu.Lock()
	var remaining []*waitEntry
	for _, w := range o.entryWaits {
		matches := globMatch(orStar(w.glob), e.Request.URL)
		if matches && w.filter != nil {
			matches = w.filter.MatchesRequest(e.Request)
			if matches && e.Response != nil {
				matches = w.filter.MatchesResponse(*e.Response)
			}
		}
		if matches {
			select {
			case w.result <- e:
			default:
			}
			continue
		}
		remaining = append(remaining, w)
	}
	o.entryWaits = remaining
	o.waitMu.Unlock()
}

func (o *Observer) resolveIdleWaiters() {
	o.waitMu.Lock()
	for _, w := range o.idleWaits {
		select {
		case w.result <- struct{}{}:
		default:
		}
	}
	o.waitMu.Unlock()
}

func (o *Observer) removeRequestWait(victim *waitRequest) {
	o.waitMu.Lock()
	defer o.waitMu.Unlock()
	for i, w := range o.requestWaits {
		if w == victim {
			o.requestWaits = append(o.requestWaits[:i], o.requestWaits[i+1:]...)
			return
		}
	}
}

func (o *Observer) removeResponseWait(victim *waitResponse) {
	o.waitMu.Lock()
	defer o.waitMu.Unlock()
	for i, w := range o.responseWaits {
		if w == victim {
			o.responseWaits = append(o.responseWaits[:i], o.responseWaits[i+1:]...)
			return
		}
	}
}

func (o *Observer) removeEntryWait(victim *waitEntry) {
	o.waitMu.Lock()
	defer o.waitMu.Unlock()
	for i, w := range o.entryWaits {
		if w == victim {
			o.entryWaits = append(o.entryWaits[:i], o.entryWaits[i+1:]...)
			return
		}
	}
}

func (o *Observer) removeIdleWait(victim *idleWait) {
	o.waitMu.Lock()
	defer o.waitMu.Unlock()
	for i, w := range o.idleWaits {
		if w == victim {
			o.idleWaits = append(o.idleWaits[:i], o.idleWaits[i+1:]...)
			return
		}
	}
}

func (o *Observer) publishToStreams(e Entry) {
	o.streamMu.Lock()
	defer o.streamMu.Unlock()
	for _, s := range o.streams {
		if s.filter != nil {
			if !s.filter.MatchesRequest(e.Request) {
				continue
			}
			if e.Response != nil && !s.filter.MatchesResponse(*e.Response) {
				continue
			}
		}
		select {
		case s.ch <- e:
		default:
			o.log.Warn("stream overflow, dropping entry", zap.String("request_id", e.RequestID))
		}
	}
}

func orStar(glob string) string {
	if glob == "" {
		return "*"
	}
	return glob
}

// DefaultBodyFetcher returns the BodyFetcher grounded on CDP's
// Network.getResponseBody, for wiring into New by BrowserHandle/ContextController.
func DefaultBodyFetcher(router interface {
	Send(ctx context.Context, sessionID target.SessionID, method string, params json.RawMessage) (json.RawMessage, error)
}, sessionID string) BodyFetcher {
	return fetchResponseBodyViaCDP(router, sessionID)
}

func fetchResponseBodyViaCDP(router interface {
	Send(ctx context.Context, sessionID target.SessionID, method string, params json.RawMessage) (json.RawMessage, error)
}, sessionID string) BodyFetcher {
	return func(ctx context.Context, requestID string) ([]byte, error) {
		params, _ := json.Marshal(cdpnetwork.GetResponseBodyParams{RequestID: cdpnetwork.RequestID(requestID)})
		res, err := router.Send(ctx, target.SessionID(sessionID), "Network.getResponseBody", params)
		if err != nil {
			return nil, err
		}
		var ret cdpnetwork.GetResponseBodyReturns
		if err := json.Unmarshal(res, &ret); err != nil {
			return nil, err
		}
		if ret.Base64Encoded {
			return base64.StdEncoding.DecodeString(ret.Body)
		}
		return []byte(ret.Body), nil
	}
}
