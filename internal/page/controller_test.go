package page

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"reach/internal/corerrors"
)

func lifecycleEventParams(name string) map[string]any {
	return map[string]any{
		"frameId":   "F1",
		"loaderId":  "L1",
		"name":      name,
		"timestamp": 1690000000.0,
	}
}

func TestGotoWaitsForLoadLifecycle(t *testing.T) {
	h := newEnabledController(t)

	h.fc.on("Page.navigate", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"frameId":"F1","loaderId":"L1"}`), ""
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.fc.sendEvent("Page.lifecycleEvent", lifecycleEventParams("DOMContentLoaded"))
		time.Sleep(10 * time.Millisecond)
		h.fc.sendEvent("Page.lifecycleEvent", lifecycleEventParams("load"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.ctrl.Goto(ctx, "https://example.com", WaitLoad, "", time.Second); err != nil {
		t.Fatalf("Goto: %v", err)
	}
	if got := h.ctrl.State(); got != StateLoaded {
		t.Fatalf("state = %v, want %v", got, StateLoaded)
	}
	if got := h.ctrl.CachedURL(); got != "https://example.com" {
		t.Fatalf("CachedURL = %q", got)
	}
}

func TestGotoNavigationErrorClassifiesDNS(t *testing.T) {
	h := newEnabledController(t)
	h.fc.on("Page.navigate", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"frameId":"F1","loaderId":"L1","errorText":"net::ERR_NAME_NOT_RESOLVED"}`), ""
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := h.ctrl.Goto(ctx, "https://nowhere.invalid", WaitLoad, "", time.Second)
	if err == nil {
		t.Fatal("expected a navigation error")
	}
	navErr, ok := err.(*corerrors.NavigationError)
	if !ok {
		t.Fatalf("got %T: %v, want *corerrors.NavigationError", err, err)
	}
	if navErr.Kind != corerrors.NavDNS {
		t.Fatalf("kind = %v, want dns", navErr.Kind)
	}
}

func TestGotoTimesOutWithoutLifecycleEvent(t *testing.T) {
	h := newEnabledController(t)
	h.fc.on("Page.navigate", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"frameId":"F1","loaderId":"L1"}`), ""
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := h.ctrl.Goto(ctx, "https://example.com", WaitLoad, "", 30*time.Millisecond)
	if err == nil {
		t.Fatal("expected a lifecycle timeout")
	}
}

func TestEvaluateReturnsDecodedValue(t *testing.T) {
	h := newEnabledController(t)
	h.fc.on("Runtime.evaluate", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"result":{"type":"string","value":"hello"}}`), ""
	})

	var out string
	if err := h.ctrl.Evaluate(context.Background(), `"hello"`, &out); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out != "hello" {
		t.Fatalf("got %q", out)
	}
}

func TestEvaluateSurfacesScriptError(t *testing.T) {
	h := newEnabledController(t)
	h.fc.on("Runtime.evaluate", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"exceptionDetails":{"exceptionId":1,"text":"Uncaught","lineNumber":0,"columnNumber":0}}`), ""
	})

	err := h.ctrl.Evaluate(context.Background(), `throw new Error("boom")`, nil)
	if err == nil {
		t.Fatal("expected a script error")
	}
}

func TestTitleCachesLastResult(t *testing.T) {
	h := newEnabledController(t)
	h.fc.on("Runtime.evaluate", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"result":{"type":"string","value":"Example Domain"}}`), ""
	})

	got, err := h.ctrl.Title(context.Background())
	if err != nil {
		t.Fatalf("Title: %v", err)
	}
	if got != "Example Domain" {
		t.Fatalf("got %q", got)
	}
	if cached := h.ctrl.CachedTitle(); cached != "Example Domain" {
		t.Fatalf("CachedTitle = %q", cached)
	}
}

func TestMarkCrashedBlocksGotoUntilReload(t *testing.T) {
	h := newEnabledController(t)
	h.ctrl.MarkCrashed()
	if h.ctrl.State() != StateCrashed {
		t.Fatalf("state = %v, want crashed", h.ctrl.State())
	}

	err := h.ctrl.Goto(context.Background(), "https://example.com", WaitLoad, "", time.Second)
	if err == nil {
		t.Fatal("expected Goto to refuse a crashed page")
	}

	h.fc.on("Page.reload", func(json.RawMessage) (json.RawMessage, string) { return json.RawMessage(`{}`), "" })
	go func() {
		time.Sleep(20 * time.Millisecond)
		h.fc.sendEvent("Page.lifecycleEvent", lifecycleEventParams("load"))
	}()
	if err := h.ctrl.Reload(context.Background(), WaitLoad, time.Second); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if h.ctrl.State() == StateCrashed {
		t.Fatal("Reload should have cleared the crashed state")
	}
}
