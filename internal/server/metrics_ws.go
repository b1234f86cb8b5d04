package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"reach/pkg/metrics"
)

// MetricsWebSocket streams pool/network/transport events to subscribers in
// real time, alongside the periodic Prometheus/JSON snapshot endpoints.
type MetricsWebSocket struct {
	collector   *metrics.MetricsCollector
	hub         *MetricsHub
	upgrader    websocket.Upgrader
	broadcastCh chan MetricsEvent
}

// MetricsHub manages WebSocket connections for metrics.
type MetricsHub struct {
	mu       sync.RWMutex
	conns    map[*websocket.Conn]chan MetricsEvent
	typeSubs map[string]map[*websocket.Conn]bool
}

// MetricsEvent is one WebSocket frame.
type MetricsEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// PoolEvent reports a BrowserPool Acquire/Release/recycle transition.
type PoolEvent struct {
	Action string `json:"action"` // "acquired", "released", "recycled", "reset_failed"
	Active int32  `json:"active"`
	Idle   int32  `json:"idle"`
}

// NetworkEvent reports a NetworkObserver entry being recorded.
type NetworkEvent struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	Status    int    `json:"status,omitempty"`
	Kind      string `json:"kind"` // "request", "response", "failed"
}

// PerformanceEvent is the periodic aggregate snapshot.
type PerformanceEvent struct {
	CommandRatePerMin float64 `json:"command_rate_per_min"`
	ErrorRate         float64 `json:"error_rate"`
	PoolActive        int64   `json:"pool_active"`
	PoolIdle          int64   `json:"pool_idle"`
}

// NewMetricsHub builds an empty hub.
func NewMetricsHub() *MetricsHub {
	return &MetricsHub{
		conns:    make(map[*websocket.Conn]chan MetricsEvent),
		typeSubs: make(map[string]map[*websocket.Conn]bool),
	}
}

var allEventTypes = []string{"pool", "network", "performance"}

// Register subscribes conn to eventTypes (or all types if empty).
func (h *MetricsHub) Register(conn *websocket.Conn, eventTypes []string) chan MetricsEvent {
	ch := make(chan MetricsEvent, 128)
	h.mu.Lock()
	h.conns[conn] = ch
	if len(eventTypes) == 0 {
		eventTypes = allEventTypes
	}
	for _, et := range eventTypes {
		if h.typeSubs[et] == nil {
			h.typeSubs[et] = make(map[*websocket.Conn]bool)
		}
		h.typeSubs[et][conn] = true
	}
	h.mu.Unlock()
	return ch
}

// Unregister drops conn from every subscription and closes its channel.
func (h *MetricsHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.conns[conn]; ok {
		for _, subs := range h.typeSubs {
			delete(subs, conn)
		}
		close(ch)
		delete(h.conns, conn)
	}
	h.mu.Unlock()
}

// Broadcast fans event out to every connection subscribed to its type.
func (h *MetricsHub) Broadcast(event MetricsEvent) {
	h.mu.RLock()
	subs := h.typeSubs[event.Type]
	chans := make([]chan MetricsEvent, 0, len(subs))
	for conn := range subs {
		if ch, ok := h.conns[conn]; ok {
			chans = append(chans, ch)
		}
	}
	h.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- event:
		default:
		}
	}
}

// ConnectionCount returns the number of live WebSocket connections.
func (h *MetricsHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// NewMetricsWebSocket builds the WebSocket handler backed by collector.
func NewMetricsWebSocket(collector *metrics.MetricsCollector) *MetricsWebSocket {
	mws := &MetricsWebSocket{
		collector:   collector,
		hub:         NewMetricsHub(),
		broadcastCh: make(chan MetricsEvent, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	go mws.broadcaster()
	go mws.periodicUpdates()
	return mws
}

// HandleWebSocket upgrades the connection and streams events until the
// client disconnects.
func (mws *MetricsWebSocket) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	eventTypes := r.URL.Query()["type"]

	conn, err := mws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch := mws.hub.Register(conn, eventTypes)
	defer mws.hub.Unregister(conn)

	initEvent := MetricsEvent{Type: "snapshot", Timestamp: time.Now(), Data: mws.collector.GetSnapshot()}
	if err := conn.WriteJSON(initEvent); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range ch {
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	<-done
}

func (mws *MetricsWebSocket) broadcaster() {
	for event := range mws.broadcastCh {
		mws.hub.Broadcast(event)
	}
}

func (mws *MetricsWebSocket) periodicUpdates() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		snap := mws.collector.GetSnapshot()
		mws.BroadcastPerformance(PerformanceEvent{
			CommandRatePerMin: snap.CommandRatePerMin,
			ErrorRate:         snap.ErrorRate,
			PoolActive:        snap.PoolActive,
			PoolIdle:          snap.PoolIdle,
		})
	}
}

// BroadcastPool publishes one BrowserPool transition.
func (mws *MetricsWebSocket) BroadcastPool(event PoolEvent) {
	mws.broadcastCh <- MetricsEvent{Type: "pool", Timestamp: time.Now(), Data: event}
}

// BroadcastNetwork publishes one NetworkObserver entry.
func (mws *MetricsWebSocket) BroadcastNetwork(event NetworkEvent) {
	mws.broadcastCh <- MetricsEvent{Type: "network", Timestamp: time.Now(), Data: event}
}

// BroadcastPerformance publishes one aggregate performance sample.
func (mws *MetricsWebSocket) BroadcastPerformance(event PerformanceEvent) {
	mws.broadcastCh <- MetricsEvent{Type: "performance", Timestamp: time.Now(), Data: event}
}

// ConnectionCount returns the number of connected WebSocket clients.
func (mws *MetricsWebSocket) ConnectionCount() int {
	return mws.hub.ConnectionCount()
}

// Close releases the broadcaster goroutine.
func (mws *MetricsWebSocket) Close() {
	close(mws.broadcastCh)
}

// MetricsHandler serves Prometheus text exposition.
func MetricsHandler(collector *metrics.MetricsCollector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collector.MetricsHandler().ServeHTTP(w, r)
	}
}

// MetricsJSONHandler serves a single JSON snapshot.
func MetricsJSONHandler(collector *metrics.MetricsCollector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(collector.GetSnapshot())
	}
}
