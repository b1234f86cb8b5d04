package page

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRouteFulfillsMatchingRequest(t *testing.T) {
	h := newEnabledController(t)

	h.fc.on("Fetch.enable", func(json.RawMessage) (json.RawMessage, string) { return json.RawMessage(`{}`), "" })

	fulfilled := make(chan struct{}, 1)
	h.fc.on("Fetch.fulfillRequest", func(params json.RawMessage) (json.RawMessage, string) {
		var p struct {
			RequestID    string `json:"requestId"`
			ResponseCode int64  `json:"responseCode"`
		}
		_ = json.Unmarshal(params, &p)
		if p.RequestID == "REQ1" && p.ResponseCode == 200 {
			fulfilled <- struct{}{}
		}
		return json.RawMessage(`{}`), ""
	})

	if err := h.ctrl.Route(context.Background(), "*api/users*", func(req *RoutedRequest) {
		_ = req.Fulfill(context.Background(), 200, map[string]string{"content-type": "application/json"}, []byte(`{"ok":true}`))
	}); err != nil {
		t.Fatalf("Route: %v", err)
	}

	h.fc.sendEvent("Fetch.requestPaused", map[string]any{
		"requestId": "REQ1",
		"request":   map[string]any{"url": "https://example.com/api/users?page=1", "method": "GET"},
	})

	select {
	case <-fulfilled:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Fetch.fulfillRequest")
	}
}

func TestRouteAutoContinuesNonMatchingRequest(t *testing.T) {
	h := newEnabledController(t)
	h.fc.on("Fetch.enable", func(json.RawMessage) (json.RawMessage, string) { return json.RawMessage(`{}`), "" })

	continued := make(chan struct{}, 1)
	h.fc.on("Fetch.continueRequest", func(params json.RawMessage) (json.RawMessage, string) {
		var p struct {
			RequestID string `json:"requestId"`
		}
		_ = json.Unmarshal(params, &p)
		if p.RequestID == "REQ2" {
			continued <- struct{}{}
		}
		return json.RawMessage(`{}`), ""
	})

	if err := h.ctrl.Route(context.Background(), "*api/users*", func(req *RoutedRequest) {
		t.Fatal("handler should not run for a non-matching URL")
	}); err != nil {
		t.Fatalf("Route: %v", err)
	}

	h.fc.sendEvent("Fetch.requestPaused", map[string]any{
		"requestId": "REQ2",
		"request":   map[string]any{"url": "https://example.com/static/app.js", "method": "GET"},
	})

	select {
	case <-continued:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for auto Fetch.continueRequest")
	}
}

func TestUnrouteDisablesFetchOnceEmpty(t *testing.T) {
	h := newEnabledController(t)
	h.fc.on("Fetch.enable", func(json.RawMessage) (json.RawMessage, string) { return json.RawMessage(`{}`), "" })

	disabled := make(chan struct{}, 1)
	h.fc.on("Fetch.disable", func(json.RawMessage) (json.RawMessage, string) {
		disabled <- struct{}{}
		return json.RawMessage(`{}`), ""
	})

	if err := h.ctrl.Route(context.Background(), "*", func(*RoutedRequest) {}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if err := h.ctrl.Unroute(context.Background(), "*"); err != nil {
		t.Fatalf("Unroute: %v", err)
	}

	select {
	case <-disabled:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Fetch.disable")
	}
}

func TestExposeFunctionRegistersBindingAndInitScript(t *testing.T) {
	h := newEnabledController(t)

	bound := make(chan string, 1)
	h.fc.on("Runtime.addBinding", func(params json.RawMessage) (json.RawMessage, string) {
		var p struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(params, &p)
		bound <- p.Name
		return json.RawMessage(`{}`), ""
	})

	called := make(chan json.RawMessage, 1)
	err := h.ctrl.ExposeFunction(context.Background(), "greet", func(args json.RawMessage) (any, error) {
		called <- args
		return "hello", nil
	})
	if err != nil {
		t.Fatalf("ExposeFunction: %v", err)
	}

	select {
	case name := <-bound:
		if name != "__reach_invoke_greet" {
			t.Fatalf("bound name = %q", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Runtime.addBinding")
	}

	evaluated := make(chan struct{}, 1)
	h.fc.on("Runtime.evaluate", func(params json.RawMessage) (json.RawMessage, string) {
		evaluated <- struct{}{}
		return json.RawMessage(`{"result":{"type":"undefined"}}`), ""
	})

	h.fc.sendEvent("Runtime.bindingCalled", map[string]any{
		"name":               "__reach_invoke_greet",
		"payload":            `{"id":"call1","args":["world"]}`,
		"executionContextId": 1,
	})

	select {
	case args := <-called:
		if string(args) != `["world"]` {
			t.Fatalf("got args %s", args)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the binding callback to run")
	}

	select {
	case <-evaluated:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the resolving Runtime.evaluate call")
	}
}

func TestExposeFunctionRejectsErrorResultInJS(t *testing.T) {
	h := newEnabledController(t)
	h.fc.on("Runtime.addBinding", func(json.RawMessage) (json.RawMessage, string) { return json.RawMessage(`{}`), "" })

	if err := h.ctrl.ExposeFunction(context.Background(), "fails", func(json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	}); err != nil {
		t.Fatalf("ExposeFunction: %v", err)
	}

	rejected := make(chan string, 1)
	h.fc.on("Runtime.evaluate", func(params json.RawMessage) (json.RawMessage, string) {
		var p struct {
			Expression string `json:"expression"`
		}
		_ = json.Unmarshal(params, &p)
		rejected <- p.Expression
		return json.RawMessage(`{"result":{"type":"undefined"}}`), ""
	})

	h.fc.sendEvent("Runtime.bindingCalled", map[string]any{
		"name":               "__reach_invoke_fails",
		"payload":            `{"id":"call2","args":[]}`,
		"executionContextId": 1,
	})

	select {
	case expr := <-rejected:
		if !strings.Contains(expr, "reject") {
			t.Fatalf("expected a reject() call, got %q", expr)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the rejecting Runtime.evaluate call")
	}
}
