package page

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	cdptarget "github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"

	"reach/internal/cdpsession"
	"reach/internal/transport"
)

const (
	testSessionID = cdptarget.SessionID("SESSION1")
	testTargetID  = cdptarget.ID("TARGET1")
)

// methodHandler lets a test override the reply for one CDP method; an
// unregistered method gets a generic {} reply.
type methodHandler func(params json.RawMessage) (result json.RawMessage, errMsg string)

// fakeCDP is a one-connection fake devtools endpoint, mirroring the
// fakeBrowser helper the transport package tests against but extended with
// per-method overrides and the ability to push session-scoped events, both
// of which the page package's tests need.
type fakeCDP struct {
	srv *httptest.Server

	ready chan struct{}

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]methodHandler
}

func newFakeCDP(t *testing.T) *fakeCDP {
	t.Helper()
	f := &fakeCDP{handlers: make(map[string]methodHandler), ready: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		close(f.ready)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m transport.Message
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}

			f.mu.Lock()
			h := f.handlers[m.Method]
			f.mu.Unlock()

			reply := transport.Message{ID: m.ID, Result: json.RawMessage(`{}`)}
			if h != nil {
				result, errMsg := h(m.Params)
				if errMsg != "" {
					reply = transport.Message{ID: m.ID, Error: &transport.Error{Message: errMsg}}
				} else if result != nil {
					reply = transport.Message{ID: m.ID, Result: result}
				}
			}
			b, _ := json.Marshal(reply)
			f.writeLocked(b)
		}
	}))
	return f
}

func (f *fakeCDP) writeLocked(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.WriteMessage(websocket.TextMessage, b)
	}
}

// on overrides the reply for method.
func (f *fakeCDP) on(method string, h methodHandler) {
	f.mu.Lock()
	f.handlers[method] = h
	f.mu.Unlock()
}

// sendEvent pushes a session-scoped CDP event to the client.
func (f *fakeCDP) sendEvent(method string, params any) {
	<-f.ready
	raw, _ := json.Marshal(params)
	m := transport.Message{Method: method, Params: raw, SessionID: string(testSessionID)}
	b, _ := json.Marshal(m)
	f.writeLocked(b)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type testHarness struct {
	ctrl   *Controller
	router *cdpsession.Router
	tr     *transport.Transport
	fc     *fakeCDP
}

// newTestController dials a fakeCDP endpoint and builds a Controller bound
// to it, without calling Enable.
func newTestController(t *testing.T) *testHarness {
	t.Helper()
	fc := newFakeCDP(t)
	tr, err := transport.Dial(context.Background(), wsURL(fc.srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		tr.Close()
		fc.srv.Close()
	})
	router := cdpsession.New(tr, nil)
	ctrl := New(router, testSessionID, testTargetID, nil)
	return &testHarness{ctrl: ctrl, router: router, tr: tr, fc: fc}
}

// newEnabledController builds a Controller and calls Enable on it.
func newEnabledController(t *testing.T) *testHarness {
	t.Helper()
	h := newTestController(t)
	if err := h.ctrl.Enable(context.Background()); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	return h
}
