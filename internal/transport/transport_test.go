package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"reach/internal/corerrors"
)

// fakeBrowser upgrades a single WebSocket connection and replies to every
// request with {"id": <id>, "result": {}} unless handle overrides it.
func fakeBrowser(t *testing.T, handle func(conn *websocket.Conn, m Message)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m Message
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			if handle != nil {
				handle(conn, m)
				continue
			}
			reply, _ := json.Marshal(Message{ID: m.ID, Result: json.RawMessage(`{}`)})
			_ = conn.WriteMessage(websocket.TextMessage, reply)
		}
	}))
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendReceivesReply(t *testing.T) {
	srv := fakeBrowser(t, nil)
	defer srv.Close()

	tr, err := Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	res, err := tr.Send(context.Background(), "Target.getTargets", "", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(res) != "{}" {
		t.Fatalf("unexpected result: %s", res)
	}
}

func TestSendMonotonicIDs(t *testing.T) {
	seen := make(chan int64, 8)
	srv := fakeBrowser(t, func(conn *websocket.Conn, m Message) {
		seen <- m.ID
		reply, _ := json.Marshal(Message{ID: m.ID, Result: json.RawMessage(`{}`)})
		_ = conn.WriteMessage(websocket.TextMessage, reply)
	})
	defer srv.Close()

	tr, err := Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	for i := 0; i < 5; i++ {
		if _, err := tr.Send(context.Background(), "Page.enable", "", nil); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	close(seen)
	var last int64
	for id := range seen {
		if id <= last {
			t.Fatalf("ids not monotonic: %d after %d", id, last)
		}
		last = id
	}
}

func TestProtocolErrorPropagates(t *testing.T) {
	srv := fakeBrowser(t, func(conn *websocket.Conn, m Message) {
		reply, _ := json.Marshal(Message{ID: m.ID, Error: &Error{Code: -32601, Message: "not found"}})
		_ = conn.WriteMessage(websocket.TextMessage, reply)
	})
	defer srv.Close()

	tr, err := Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	_, err = tr.Send(context.Background(), "Bogus.method", "", nil)
	if err == nil {
		t.Fatal("expected protocol error")
	}
	var perr *Error
	if !asError(err, &perr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if perr.Code != -32601 {
		t.Fatalf("unexpected code: %d", perr.Code)
	}
}

func asError(err error, target **Error) bool {
	if e, ok := err.(*Error); ok {
		*target = e
		return true
	}
	return false
}

func TestTimeoutRemovesSlot(t *testing.T) {
	srv := fakeBrowser(t, func(conn *websocket.Conn, m Message) {
		// never reply
	})
	defer srv.Close()

	tr, err := Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = tr.Send(ctx, "Page.navigate", "", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}

	tr.slotsMu.Lock()
	n := len(tr.slots)
	tr.slotsMu.Unlock()
	if n != 0 {
		t.Fatalf("expected slot to be removed on timeout, got %d remaining", n)
	}
}

func TestCloseCascadesToWaiters(t *testing.T) {
	srv := fakeBrowser(t, func(conn *websocket.Conn, m Message) {
		// never reply, then close
	})
	defer srv.Close()

	tr, err := Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	errCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := tr.Send(context.Background(), "Page.navigate", "", nil)
			errCh <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	tr.Close()

	for i := 0; i < 2; i++ {
		err := <-errCh
		if !errors.Is(err, corerrors.ErrTransportClosed) {
			t.Fatalf("waiter error = %v, want errors.Is match against corerrors.ErrTransportClosed", err)
		}
	}

	if _, err := tr.Send(context.Background(), "Page.navigate", "", nil); !errors.Is(err, corerrors.ErrTransportClosed) {
		t.Fatalf("send on closed transport = %v, want corerrors.ErrTransportClosed", err)
	}
}
