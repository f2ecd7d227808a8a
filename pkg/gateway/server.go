package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/toolgate/internal/observability"
	"github.com/harun/toolgate/internal/tracing"
	"github.com/harun/toolgate/pkg/ledger"
	"github.com/harun/toolgate/pkg/tool"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	inboundQueueSize    = 64
	defaultWriteTimeout = 10 * time.Second
)

// Server is the tool gateway: it accepts WebSocket connections and answers
// tool invocations read from them
type Server struct {
	addr               string
	path               string
	shutdownTimeout    time.Duration
	rateLimitPerMinute int
	maxMessageBytes    int64
	server             *http.Server
	listener           net.Listener
	mux                *http.ServeMux
	upgrader           websocket.Upgrader
	conns              *ConnectionRegistry
	registry           *tool.Registry
	dispatcher         *Dispatcher
	logger             zerolog.Logger
	baseCtx            context.Context
	baseCancel         context.CancelFunc
	stopping           chan struct{}
	stopOnce           sync.Once
	isShuttingDown     bool
	shutdownMu         sync.RWMutex
	connWG             sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host               string
	Port               int
	Path               string
	CallTimeout        time.Duration
	ShutdownTimeout    time.Duration
	RateLimitPerMinute int
	MaxMessageBytes    int64
	Registry           *tool.Registry
	Ledger             *ledger.Ledger
	Logger             zerolog.Logger
}

// NewServer creates a new gateway server. Port 0 binds an ephemeral port.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	baseCtx, baseCancel := context.WithCancel(context.Background())

	s := &Server{
		addr:               net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		path:               cfg.Path,
		shutdownTimeout:    cfg.ShutdownTimeout,
		rateLimitPerMinute: cfg.RateLimitPerMinute,
		maxMessageBytes:    cfg.MaxMessageBytes,
		conns:              NewConnectionRegistry(),
		registry:           cfg.Registry,
		dispatcher:         NewDispatcher(cfg.Registry, cfg.Ledger, cfg.CallTimeout, cfg.Logger),
		logger:             logger,
		baseCtx:            baseCtx,
		baseCancel:         baseCancel,
		stopping:           make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", s.handleHealth)
	s.mux = mux

	return s, nil
}

// Handler returns the HTTP handler serving every gateway endpoint
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds the listen address and serves in the background. A bind
// failure is returned to the caller.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("path", s.path).
		Int("tools", s.registry.Len()).
		Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound address once started, otherwise the configured one
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully stops the gateway. New connections are refused, each
// connection finishes the call it is running, and whatever is still open
// after the shutdown timeout is cancelled and closed.
func (s *Server) Stop() error {
	var stopErr error

	s.stopOnce.Do(func() {
		s.shutdownMu.Lock()
		s.isShuttingDown = true
		s.shutdownMu.Unlock()

		s.logger.Info().Int("connections", s.conns.Count()).Msg("Shutting down gateway server")

		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		close(s.stopping)

		if s.server != nil {
			if err := s.server.Shutdown(ctx); err != nil {
				stopErr = fmt.Errorf("failed to shutdown server: %w", err)
			}
		}

		if waitGroup(ctx, &s.connWG) {
			s.logger.Info().Msg("All connections drained")
		} else {
			s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
		}

		s.baseCancel()
		for _, conn := range s.conns.GetAll() {
			_ = conn.Close()
		}

		forceCtx, forceCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer forceCancel()
		waitGroup(forceCtx, &s.connWG)

		s.logger.Info().Msg("Gateway server stopped")
	})

	return stopErr
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Connections returns information about all open connections
func (s *Server) Connections() []ConnectionInfo {
	return s.conns.Infos()
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":      "ok",
		"tools":       s.registry.Len(),
		"connections": s.conns.Count(),
	}
	if s.shuttingDown() {
		status = http.StatusServiceUnavailable
		body["status"] = "shutting_down"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.connWG.Add(1)
	s.shutdownMu.RUnlock()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.connWG.Done()
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	if s.maxMessageBytes > 0 {
		ws.SetReadLimit(s.maxMessageBytes)
	}

	connID, err := gonanoid.New()
	if err != nil {
		connID = tracing.NewTraceID()
	}

	conn := newConnection(connID, ws, r.RemoteAddr, NewClientRateLimiter(s.rateLimitPerMinute), defaultWriteTimeout)
	ctx, cancel := connectionContext(s.baseCtx, connID)
	conn.cancel = cancel

	s.conns.Add(conn)
	observability.RecordConnectionOpened()
	observability.RecordConnectionAudit(ctx, "connect", connID, r.RemoteAddr)

	s.logger.Info().
		Str("connId", connID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.serveConnection(ctx, conn)
}

// serveConnection answers the requests of one connection in arrival order.
// Reading happens on its own goroutine so a disconnect cancels the call in
// progress.
func (s *Server) serveConnection(ctx context.Context, conn *Connection) {
	defer s.connWG.Done()
	defer func() {
		_ = conn.Close()
		s.conns.Remove(conn.ID)
		observability.RecordConnectionClosed()
		observability.RecordConnectionAudit(context.Background(), "disconnect", conn.ID, conn.RemoteAddr)
		s.logger.Info().
			Str("connId", conn.ID).
			Int64("requests", conn.requests.Load()).
			Msg("Client disconnected")
	}()

	messages := make(chan []byte, inboundQueueSize)
	go s.readLoop(ctx, conn, messages)

	logger := tracing.LoggerFromContext(ctx, s.logger)

	for {
		select {
		case <-s.stopping:
			return
		default:
		}

		select {
		case <-s.stopping:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			conn.touch()
			conn.requests.Add(1)

			if !conn.limiter.Allow() {
				observability.RecordRateLimited()
				var id json.RawMessage
				if req, _ := ParseRequest(msg); req != nil {
					id = req.ID
				}
				logger.Warn().Msg("Rate limit exceeded")
				if err := conn.WriteJSON(newErrorResponse(id, RateLimitExceeded, "Rate limit exceeded", nil)); err != nil {
					return
				}
				continue
			}

			if err := s.dispatcher.Handle(ctx, msg, conn); err != nil {
				if ctx.Err() == nil {
					logger.Error().Err(err).Msg("Failed to send response")
				}
				return
			}
		}
	}
}

// readLoop feeds inbound frames to the connection's dispatch loop. It
// cancels the connection context when the peer goes away.
func (s *Server) readLoop(ctx context.Context, conn *Connection, messages chan<- []byte) {
	defer close(messages)
	defer conn.cancel()

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("connId", conn.ID).Msg("WebSocket error")
			}
			return
		}

		select {
		case messages <- data:
		case <-ctx.Done():
			return
		}
	}
}

// httpFrameWriter writes each frame as one JSON line of an HTTP response
type httpFrameWriter struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher http.Flusher
}

func (h *httpFrameWriter) WriteJSON(v interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.enc.Encode(v); err != nil {
		return err
	}
	if h.flusher != nil {
		h.flusher.Flush()
	}
	return nil
}

// handleRPC answers a single request sent over plain HTTP. Streaming
// requests receive their frames as newline-delimited JSON.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	reader := io.Reader(r.Body)
	if s.maxMessageBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, s.maxMessageBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	ctx := tracing.WithTraceID(r.Context(), traceID)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Trace-Id", traceID)
	fw := &httpFrameWriter{enc: json.NewEncoder(w)}
	if flusher, ok := w.(http.Flusher); ok {
		fw.flusher = flusher
	}

	if err := s.dispatcher.Handle(ctx, body, fw); err != nil {
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Error().Err(err).Msg("Failed to write RPC response")
	}
}
