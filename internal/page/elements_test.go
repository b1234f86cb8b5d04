package page

import (
	"context"
	"encoding/json"
	"testing"

	"reach/internal/corerrors"
)

func stubSingleElement(h *testHarness, nodeID int) {
	h.fc.on("Runtime.evaluate", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"result":{"type":"object","objectId":"COLLECTION1"}}`), ""
	})
	h.fc.on("Runtime.getProperties", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"result":[{"name":"0","value":{"type":"object","objectId":"ELEM1"}},{"name":"length","value":{"type":"number","value":1}}]}`), ""
	})
	h.fc.on("DOM.requestNode", func(json.RawMessage) (json.RawMessage, string) {
		return []byte(`{"nodeId":` + itoa(nodeID) + `}`), ""
	})
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestQueryFindsMatchingElement(t *testing.T) {
	h := newEnabledController(t)
	stubSingleElement(h, 7)

	found, err := h.ctrl.Query(context.Background(), "#login-button")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !found {
		t.Fatal("expected Query to report a match")
	}
}

func TestQueryNoMatchReturnsFalse(t *testing.T) {
	h := newEnabledController(t)
	h.fc.on("Runtime.evaluate", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"result":{"type":"undefined"}}`), ""
	})

	found, err := h.ctrl.Query(context.Background(), "#missing")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if found {
		t.Fatal("expected no match")
	}
}

func TestResolveSingleNotFoundError(t *testing.T) {
	h := newEnabledController(t)
	h.fc.on("Runtime.evaluate", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"result":{"type":"undefined"}}`), ""
	})

	_, err := h.ctrl.resolveSingle(context.Background(), "#missing")
	if _, ok := err.(*corerrors.ElementNotFound); !ok {
		t.Fatalf("got %T: %v, want *corerrors.ElementNotFound", err, err)
	}
}

func TestQueryAllCountsMatches(t *testing.T) {
	h := newEnabledController(t)
	h.fc.on("Runtime.evaluate", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"result":{"type":"object","objectId":"COLLECTION1"}}`), ""
	})
	h.fc.on("Runtime.getProperties", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"result":[
			{"name":"0","value":{"type":"object","objectId":"ELEM1"}},
			{"name":"1","value":{"type":"object","objectId":"ELEM2"}},
			{"name":"length","value":{"type":"number","value":2}}
		]}`), ""
	})
	h.fc.on("DOM.requestNode", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"nodeId":1}`), ""
	})

	count, err := h.ctrl.QueryAll(context.Background(), ".item")
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestWaitForSelectorVisibleTimesOutWhenAbsent(t *testing.T) {
	h := newEnabledController(t)
	h.fc.on("Runtime.evaluate", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"result":{"type":"undefined"}}`), ""
	})

	err := h.ctrl.WaitForSelector(context.Background(), "#never", StateVisible, 60*1e6)
	if err == nil {
		t.Fatal("expected a timeout since the element never appears")
	}
	if _, ok := err.(*corerrors.LifecycleTimeout); !ok {
		t.Fatalf("got %T: %v, want *corerrors.LifecycleTimeout", err, err)
	}
}

func TestWaitForSelectorHiddenSucceedsWhenAbsent(t *testing.T) {
	h := newEnabledController(t)
	h.fc.on("Runtime.evaluate", func(json.RawMessage) (json.RawMessage, string) {
		return json.RawMessage(`{"result":{"type":"undefined"}}`), ""
	})

	if err := h.ctrl.WaitForSelector(context.Background(), "#gone", StateHidden, 200*1e6); err != nil {
		t.Fatalf("WaitForSelector: %v", err)
	}
}
