package page

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	cdpinput "github.com/chromedp/cdproto/input"
)

func stubClickableElement(h *testHarness) {
	h.fc.on("Runtime.evaluate", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"result":{"type":"object","objectId":"COLLECTION1"}}`), ""
	})
	h.fc.on("Runtime.getProperties", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"result":[{"name":"0","value":{"type":"object","objectId":"ELEM1"}}]}`), ""
	})
	h.fc.on("DOM.requestNode", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"nodeId":1}`), ""
	})
	h.fc.on("DOM.scrollIntoViewIfNeeded", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{}`), ""
	})
	h.fc.on("DOM.getBoxModel", func(json.RawMessage) (json.RawMessage, string) {
		// A 20x10 box with its top-left corner at (10, 10); centroid (20, 15).
		return json.RawMessage(`{"model":{"content":[10,10,30,10,30,20,10,20],"padding":[],"border":[],"margin":[],"width":20,"height":10}}`), ""
	})
}

func TestClickDispatchesPressThenReleaseAtCentroid(t *testing.T) {
	h := newEnabledController(t)
	stubClickableElement(h)

	var mu sync.Mutex
	var events []cdpinput.DispatchMouseEventParams
	h.fc.on("Input.dispatchMouseEvent", func(params json.RawMessage) (json.RawMessage, string) {
		var p cdpinput.DispatchMouseEventParams
		_ = json.Unmarshal(params, &p)
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
		return json.RawMessage(`{}`), ""
	})

	if err := h.ctrl.Click(context.Background(), "#btn", ClickOptions{}); err != nil {
		t.Fatalf("Click: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d mouse events, want 2", len(events))
	}
	if events[0].Type != cdpinput.MousePressed || events[1].Type != cdpinput.MouseReleased {
		t.Fatalf("event order = %v, %v", events[0].Type, events[1].Type)
	}
	for _, e := range events {
		if e.X != 20 || e.Y != 15 {
			t.Fatalf("click point = (%v, %v), want (20, 15)", e.X, e.Y)
		}
		if e.Button != cdpinput.Left {
			t.Fatalf("button = %v, want left", e.Button)
		}
	}
}

func TestClickWithPositionOffsetsFromTopLeftCorner(t *testing.T) {
	h := newEnabledController(t)
	stubClickableElement(h)

	var mu sync.Mutex
	var events []cdpinput.DispatchMouseEventParams
	h.fc.on("Input.dispatchMouseEvent", func(params json.RawMessage) (json.RawMessage, string) {
		var p cdpinput.DispatchMouseEventParams
		_ = json.Unmarshal(params, &p)
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
		return json.RawMessage(`{}`), ""
	})

	opts := ClickOptions{Position: &Point{X: 2, Y: 3}}
	if err := h.ctrl.Click(context.Background(), "#btn", opts); err != nil {
		t.Fatalf("Click: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].X != 12 || events[0].Y != 13 {
		t.Fatalf("click point = (%v, %v), want (12, 13)", events[0].X, events[0].Y)
	}
}

func TestFillSetsValueViaCallFunctionOn(t *testing.T) {
	h := newEnabledController(t)
	stubClickableElement(h)

	var mu sync.Mutex
	var gotArgs []json.RawMessage
	h.fc.on("Runtime.callFunctionOn", func(params json.RawMessage) (json.RawMessage, string) {
		var p struct {
			Arguments []struct {
				Value json.RawMessage `json:"value"`
			} `json:"arguments"`
		}
		_ = json.Unmarshal(params, &p)
		mu.Lock()
		for _, a := range p.Arguments {
			gotArgs = append(gotArgs, a.Value)
		}
		mu.Unlock()
		return json.RawMessage(`{"result":{"type":"undefined"}}`), ""
	})

	if err := h.ctrl.Fill(context.Background(), "#email", "user@example.com"); err != nil {
		t.Fatalf("Fill: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotArgs) != 1 || string(gotArgs[0]) != `"user@example.com"` {
		t.Fatalf("got args %v", gotArgs)
	}
}

func TestCheckClicksOnlyWhenUnchecked(t *testing.T) {
	h := newEnabledController(t)
	stubClickableElement(h)

	h.fc.on("Runtime.callFunctionOn", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"result":{"type":"boolean","value":true}}`), ""
	})

	clicks := make(chan struct{}, 8)
	h.fc.on("Input.dispatchMouseEvent", func(json.RawMessage) (json.RawMessage, string) {
		clicks <- struct{}{}
		return json.RawMessage(`{}`), ""
	})

	if err := h.ctrl.Check(context.Background(), "#agree"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(clicks) != 0 {
		t.Fatalf("expected no click when already checked, got %d", len(clicks))
	}
}

func TestTypeDispatchesKeyPairPerRune(t *testing.T) {
	h := newEnabledController(t)
	stubClickableElement(h)
	h.fc.on("Runtime.callFunctionOn", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"result":{"type":"undefined"}}`), ""
	})

	var mu sync.Mutex
	var n int
	h.fc.on("Input.dispatchKeyEvent", func(json.RawMessage) (json.RawMessage, string) {
		mu.Lock()
		n++
		mu.Unlock()
		return json.RawMessage(`{}`), ""
	})

	if err := h.ctrl.Type(context.Background(), "#q", "hi", 0); err != nil {
		t.Fatalf("Type: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if n != 4 {
		t.Fatalf("got %d key events, want 4 (down+up per rune)", n)
	}
}
