// Package server exposes the runtime's operational surface: health, pool
// status, and Prometheus/WebSocket metrics. It carries no automation logic
// of its own — it only reports on a BrowserPool and MetricsCollector wired
// in from cmd/reach.
package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"reach/internal/config"
	"reach/pkg/browserpool"
	"reach/pkg/metrics"
)

var serverStartTime = time.Now()

// apiLimiter caps the operational API at 100 req/s with a burst of 200,
// mirroring the rate the teacher applies to its own dashboard API.
var apiLimiter = rate.NewLimiter(rate.Limit(100), 200)

// Server serves the runtime's status and metrics endpoints.
type Server struct {
	mu       sync.RWMutex
	cfg      *config.Config
	reloader *config.Reloader
	pool     *browserpool.Pool
	log      *zap.Logger

	hub       *Hub
	metrics   *metrics.MetricsCollector
	metricsWS *MetricsWebSocket

	done chan struct{}
}

// Hub fans out raw status broadcasts to connected WebSocket clients,
// independent of the typed MetricsWebSocket stream.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]chan []byte
}

// NewHub builds an empty status broadcast hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]chan []byte)}
}

// Register starts relaying broadcasts to conn until Unregister is called.
func (h *Hub) Register(conn *websocket.Conn) {
	ch := make(chan []byte, 128)
	h.mu.Lock()
	h.conns[conn] = ch
	h.mu.Unlock()
	go func() {
		for msg := range ch {
			_ = conn.WriteMessage(websocket.TextMessage, msg)
		}
	}()
}

// Unregister stops relaying broadcasts to conn.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.conns[conn]; ok {
		close(ch)
		delete(h.conns, conn)
	}
	h.mu.Unlock()
}

// Broadcast fans typ/data out as one JSON frame to every connection.
func (h *Hub) Broadcast(typ string, data interface{}) {
	payload, err := json.Marshal(map[string]interface{}{"type": typ, "data": data})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.conns {
		select {
		case ch <- payload:
		default:
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// New builds a Server around an already-running BrowserPool and the
// process-wide metrics collector. The Reloader, if non-nil, is watched so
// config changes reach /config without a restart.
func New(reloader *config.Reloader, pool *browserpool.Pool, log *zap.Logger) *Server {
	collector := metrics.GetGlobalCollector()
	s := &Server{
		reloader:  reloader,
		pool:      pool,
		log:       log,
		hub:       NewHub(),
		metrics:   collector,
		metricsWS: NewMetricsWebSocket(collector),
		done:      make(chan struct{}),
	}
	if reloader != nil {
		s.cfg = reloader.GetConfig()
		reloader.OnChange(func(newCfg *config.Config) {
			s.mu.Lock()
			s.cfg = newCfg
			s.mu.Unlock()
			if s.log != nil {
				s.log.Info("config reloaded")
			}
		})
	}
	go s.pollLoop()
	return s
}

// pollLoop periodically samples the BrowserPool into the metrics collector
// and broadcasts the result, since the pool itself has no subscriber model.
func (s *Server) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sampleOnce()
		case <-s.done:
			return
		}
	}
}

func (s *Server) sampleOnce() {
	if s.pool == nil {
		return
	}
	m := s.pool.Metrics()
	s.metrics.SetPoolOccupancy(int64(m.CurrentActive), int64(m.CurrentIdle))
	s.hub.Broadcast("pool", m)
}

// Shutdown stops the background poll loop and the metrics WebSocket
// broadcaster.
func (s *Server) Shutdown() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.metricsWS.Close()
}

// Routes builds the HTTP mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/config", rateLimited(s.handleConfig))
	mux.HandleFunc("/pool/status", rateLimited(s.handlePoolStatus))
	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("/metrics", MetricsHandler(s.metrics))
	mux.HandleFunc("/metrics/json", rateLimited(MetricsJSONHandler(s.metrics)))
	mux.HandleFunc("/metrics/stream", s.metricsWS.HandleWebSocket)

	return mux
}

func rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !apiLimiter.Allow() {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(serverStartTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pool == nil {
		http.Error(w, "pool not attached", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.pool.Metrics())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Register(conn)
	defer s.hub.Unregister(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
