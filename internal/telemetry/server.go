package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// ServerConfig addresses and paths for the telemetry HTTP/WS surface.
type ServerConfig struct {
	Host          string
	Port          int
	WebSocketPath string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// DefaultServerConfig binds to localhost only; this surface is read-only
// operator tooling, not a public API.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:          "127.0.0.1",
		Port:          9090,
		WebSocketPath: "/ws/telemetry",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
	}
}

// wsClient is one connected telemetry WebSocket subscriber: a connection
// plus a buffered outbound channel drained by its own write pump so a
// slow reader never blocks publish.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Server exposes /healthz, /metrics, and a streaming /ws/telemetry feed of
// the bus's events: one mux router, one upgrader, a read/write pump per
// client, carrying this package's single event stream.
type Server struct {
	logger     *zap.Logger
	cfg        ServerConfig
	bus        *EventBus
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// NewServer wires the routes but does not start listening; call Start.
func NewServer(logger *zap.Logger, cfg ServerConfig, bus *EventBus) *Server {
	s := &Server{
		logger:  logger.Named("telemetry-server"),
		cfg:     cfg,
		bus:     bus,
		router:  mux.NewRouter(),
		clients: make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc(cfg.WebSocketPath, s.handleWebSocket)

	if bus != nil {
		bus.Subscribe("", s.broadcast)
	}
	return s
}

// Start serves the HTTP/WS surface until the process exits or Stop is
// called; it returns http.ErrServerClosed on a clean Stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("telemetry server starting", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the HTTP server down and closes every WS client.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	published, dropped := int64(0), int64(0)
	if s.bus != nil {
		published, dropped = s.bus.Stats()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":            "ok",
		"time":              time.Now().Unix(),
		"events_published":  published,
		"events_dropped":    dropped,
		"connected_clients": s.clientCount(),
	})
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{id: r.RemoteAddr, conn: conn, send: make(chan []byte, 256)}
	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()

	go s.readPump(client)
	go s.writePump(client)
}

func (s *Server) readPump(client *wsClient) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.id)
		s.mu.Unlock()
		client.conn.Close()
	}()

	client.conn.SetReadLimit(64 * 1024)
	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) writePump(client *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast is registered as an EventBus subscriber and fans every event
// out to every connected WebSocket client, dropping slow readers rather
// than blocking the bus worker.
func (s *Server) broadcast(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.Warn("failed to marshal telemetry event", zap.Error(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
}
