package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"reach/internal/corerrors"
	"reach/pkg/utils"
)

// EventHandler processes one root-session event. Handlers MUST NOT block;
// a handler that needs to do real work should schedule it on its own
// goroutine and return immediately, exactly as spec.md §4.1 requires.
type EventHandler func(method string, params json.RawMessage)

// SessionDispatcher forwards a session-scoped event to whatever owns
// sessionId (normally *cdpsession.Router). Transport itself has no notion
// of sessions beyond this one hook.
type SessionDispatcher func(sessionID, method string, params json.RawMessage)

type waiter struct {
	reply chan Message
	once  sync.Once
}

func (w *waiter) fulfill(m Message) {
	w.once.Do(func() { w.reply <- m })
}

// Transport owns one WebSocket connection to a browser's devtools endpoint.
// One reader goroutine owns all socket reads; writers share a single write
// lane guarded by writeMu so frames never interleave and request ids grow
// monotonically, per spec.md §4.1.
type Transport struct {
	log *zap.Logger

	conn *websocket.Conn

	writeMu sync.Mutex
	nextID  int64

	slotsMu sync.Mutex
	slots   map[int64]*waiter

	rootMu   sync.RWMutex
	rootSubs map[string][]EventHandler

	dispatchMu sync.RWMutex
	dispatch   SessionDispatcher

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	done chan struct{}
	wg   sync.WaitGroup
}

// Dial opens a WebSocket connection to the given devtools endpoint (the
// webSocketDebuggerUrl surfaced by /json/version, spec.md §6) and starts
// the reader goroutine.
func Dial(ctx context.Context, endpoint string, log *zap.Logger) (*Transport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	t := &Transport{
		log:      log,
		conn:     conn,
		slots:    make(map[int64]*waiter),
		rootSubs: make(map[string][]EventHandler),
		done:     make(chan struct{}),
	}
	t.wg.Add(1)
	go t.readLoop()
	return t, nil
}

// SetDispatcher installs the forwarder used for every event carrying a
// non-empty sessionId. Must be called before traffic starts flowing;
// typically wired once by BrowserHandle at construction time.
func (t *Transport) SetDispatcher(d SessionDispatcher) {
	t.dispatchMu.Lock()
	t.dispatch = d
	t.dispatchMu.Unlock()
}

// On registers a root-session (sessionId == "") event handler, invoked in
// registration order, synchronously from the reader goroutine.
func (t *Transport) On(method string, h EventHandler) {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	t.rootSubs[method] = append(t.rootSubs[method], h)
}

// Off removes a previously registered root-session handler. Handlers are
// compared by pointer identity of the underlying function value, so callers
// that need to unregister should keep the value they passed to On.
func (t *Transport) Off(method string, h EventHandler) {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	subs := t.rootSubs[method]
	for i := range subs {
		if funcsEqual(subs[i], h) {
			t.rootSubs[method] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func funcsEqual(a, b EventHandler) bool {
	return fmt.Sprintf("%p", a) == fmt.Sprintf("%p", b)
}

// Send marshals method+params into a request frame, assigns the next
// monotonic id under the write lock, writes it, and blocks until the
// matching reply arrives, ctx is done, or the Transport closes.
func (t *Transport) Send(ctx context.Context, method string, sessionID string, params json.RawMessage) (json.RawMessage, error) {
	if t.closed.Load() {
		return nil, corerrors.ErrTransportClosed
	}

	w := &waiter{reply: make(chan Message, 1)}

	t.writeMu.Lock()
	t.nextID++
	id := t.nextID
	m := Message{ID: id, Method: method, Params: params, SessionID: sessionID}
	b, err := json.Marshal(m)
	if err != nil {
		t.writeMu.Unlock()
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	t.slotsMu.Lock()
	t.slots[id] = w
	t.slotsMu.Unlock()

	werr := t.conn.WriteMessage(websocket.TextMessage, b)
	t.writeMu.Unlock()

	if werr != nil {
		t.removeSlot(id)
		return nil, fmt.Errorf("%w: %v", corerrors.ErrWriteError, werr)
	}

	select {
	case reply := <-w.reply:
		if reply.closed {
			return nil, corerrors.ErrTransportClosed
		}
		if reply.Error != nil {
			return nil, reply.Error
		}
		return reply.Result, nil
	case <-ctx.Done():
		t.removeSlot(id)
		if t.closed.Load() {
			return nil, corerrors.ErrTransportClosed
		}
		return nil, corerrors.ErrTimeout
	case <-t.done:
		return nil, corerrors.ErrTransportClosed
	}
}

func (t *Transport) removeSlot(id int64) {
	t.slotsMu.Lock()
	delete(t.slots, id)
	t.slotsMu.Unlock()
}

// readLoop is the single reader task described in spec.md §4.1: for every
// inbound frame, fulfill a matching slot, or forward it as an event either
// to the session dispatcher (sessionId set) or to root subscribers.
func (t *Transport) readLoop() {
	defer t.wg.Done()
	defer t.terminal(nil)

	buf := utils.GetBuffer()
	defer utils.PutBuffer(buf)

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.terminal(err)
			return
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			t.log.Warn("malformed CDP frame dropped", zap.Error(err))
			continue
		}

		switch {
		case m.IsReply():
			t.slotsMu.Lock()
			w, ok := t.slots[m.ID]
			if ok {
				delete(t.slots, m.ID)
			}
			t.slotsMu.Unlock()
			if !ok {
				t.log.Warn("reply for unknown id dropped", zap.Int64("id", m.ID))
				continue
			}
			w.fulfill(m)

		case m.IsEvent():
			if m.SessionID != "" {
				t.dispatchMu.RLock()
				d := t.dispatch
				t.dispatchMu.RUnlock()
				if d != nil {
					d(m.SessionID, m.Method, m.Params)
				}
				continue
			}
			t.rootMu.RLock()
			handlers := append([]EventHandler(nil), t.rootSubs[m.Method]...)
			t.rootMu.RUnlock()
			for _, h := range handlers {
				t.safeInvoke(h, m.Method, m.Params)
			}
		}
	}
}

func (t *Transport) safeInvoke(h EventHandler, method string, params json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("event handler panicked", zap.String("method", method), zap.Any("recover", r))
		}
	}()
	h(method, params)
}

// terminal cascades a terminal condition (socket closed, read error) to
// every outstanding waiter and marks the Transport closed, per spec.md §7.
func (t *Transport) terminal(_ error) {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)

		t.slotsMu.Lock()
		pending := t.slots
		t.slots = make(map[int64]*waiter)
		t.slotsMu.Unlock()

		for _, w := range pending {
			w.fulfill(Message{closed: true})
		}
	})
}

// Close drains the reader, cancels every outstanding slot with
// TransportClosed, and releases the socket. Safe to call more than once.
func (t *Transport) Close() error {
	t.terminal(nil)
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

// Closed reports whether the Transport has reached a terminal state.
func (t *Transport) Closed() bool {
	return t.closed.Load()
}
