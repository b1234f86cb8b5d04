package network

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestObserver(maxEntries int) *Observer {
	o := New(nil, "s1", zap.NewNop(), nil)
	o.started = true
	o.maxEntries = maxEntries
	if o.maxEntries <= 0 {
		o.maxEntries = 1000
	}
	return o
}

func TestRequestThenResponseThenFinish(t *testing.T) {
	o := newTestObserver(10)

	o.mu.Lock()
	entry := &Entry{RequestID: "r1", Request: RequestInfo{Method: "GET", URL: "https://example.com/a"}, State: StateInFlight}
	o.entries["r1"] = entry
	o.order = append(o.order, "r1")
	o.mu.Unlock()

	o.mu.Lock()
	entry.Response = &ResponseInfo{URL: "https://example.com/a", Status: 200}
	entry.State = StateResponded
	o.mu.Unlock()

	o.finish("r1", StateFinished, "")

	got := o.GetEntries(nil, true)
	if len(got) != 1 {
		t.Fatalf("expected 1 complete entry, got %d", len(got))
	}
	if got[0].State != StateFinished {
		t.Fatalf("expected finished state, got %v", got[0].State)
	}
}

func TestEvictionIsFIFO(t *testing.T) {
	o := newTestObserver(2)

	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		o.mu.Lock()
		o.entries[id] = &Entry{RequestID: id, Request: RequestInfo{URL: "https://x.com/" + id}, State: StateInFlight}
		o.order = append(o.order, id)
		o.evictIfOverLocked()
		o.mu.Unlock()
	}

	all := o.GetEntries(nil, false)
	if len(all) != 2 {
		t.Fatalf("expected ring bounded to 2, got %d", len(all))
	}
	for _, e := range all {
		if e.RequestID == "a" {
			t.Fatal("expected oldest entry evicted first")
		}
	}
}

func TestWaitForRequestResolves(t *testing.T) {
	o := newTestObserver(10)

	done := make(chan RequestInfo, 1)
	go func() {
		req, err := o.WaitForRequest(context.Background(), "*example.com*", nil, time.Second)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		done <- req
	}()

	time.Sleep(20 * time.Millisecond)
	o.resolveRequestWaiters(RequestInfo{Method: "GET", URL: "https://example.com/x"})

	select {
	case r := <-done:
		if r.URL != "https://example.com/x" {
			t.Fatalf("unexpected url: %s", r.URL)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolution")
	}
}

func TestWaitForRequestTimesOut(t *testing.T) {
	o := newTestObserver(10)
	_, err := o.WaitForRequest(context.Background(), "*nomatch*", nil, 30*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	o.waitMu.Lock()
	n := len(o.requestWaits)
	o.waitMu.Unlock()
	if n != 0 {
		t.Fatalf("expected waiter cleaned up, got %d remaining", n)
	}
}

func TestStreamDeliversCompletedEntries(t *testing.T) {
	o := newTestObserver(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := o.Stream(ctx, nil)

	o.mu.Lock()
	o.entries["r1"] = &Entry{RequestID: "r1", Request: RequestInfo{URL: "https://a.com"}, State: StateInFlight}
	o.mu.Unlock()
	o.finish("r1", StateFinished, "")

	select {
	case e := <-ch:
		if e.RequestID != "r1" {
			t.Fatalf("unexpected entry: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream entry")
	}
}

func TestStreamFilterExcludes(t *testing.T) {
	o := newTestObserver(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewFilter().WithURLContains("api")
	ch := o.Stream(ctx, f)

	o.mu.Lock()
	o.entries["r1"] = &Entry{RequestID: "r1", Request: RequestInfo{URL: "https://a.com/page"}, State: StateInFlight}
	o.mu.Unlock()
	o.finish("r1", StateFinished, "")

	select {
	case e := <-ch:
		t.Fatalf("expected no entry delivered, got %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWaitForIdleResolvesAfterWindow(t *testing.T) {
	o := newTestObserver(10)
	err := o.WaitForIdle(context.Background(), 20*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("expected idle resolution, got %v", err)
	}
}

func TestWaitForIdleResetsOnActivity(t *testing.T) {
	o := newTestObserver(10)
	done := make(chan error, 1)
	go func() {
		done <- o.WaitForIdle(context.Background(), 40*time.Millisecond, 200*time.Millisecond)
	}()

	time.Sleep(15 * time.Millisecond)
	o.resolveIdleWaiters()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestGetResponseBodyReturnsCached(t *testing.T) {
	o := newTestObserver(10)
	o.mu.Lock()
	o.entries["r1"] = &Entry{RequestID: "r1", Response: &ResponseInfo{Body: []byte("cached")}}
	o.mu.Unlock()

	body, err := o.GetResponseBody(context.Background(), "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "cached" {
		t.Fatalf("expected cached body, got %s", body)
	}
}

func TestGetResponseBodyUnknownEntryReturnsNil(t *testing.T) {
	o := newTestObserver(10)
	body, err := o.GetResponseBody(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != nil {
		t.Fatalf("expected nil body, got %v", body)
	}
}
