package websocket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/matchgate/matchgate/internal/core/observability/log"
	"github.com/matchgate/matchgate/internal/core/transport"
)

// Server accepts WebSocket connections and delivers upcalls to a
// transport.Handler. Each accepted socket gets its own read goroutine,
// so upcalls for one connection are totally ordered.
type Server struct {
	config  transport.Config
	handler transport.Handler
	server  *http.Server
	logger  log.Log
	running int32

	clients   map[string]*Connection
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	stats     transport.Stats
	startTime time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a WebSocket transport server. The handler receives
// every open/message/close upcall.
func NewServer(config transport.Config, handler transport.Handler, logger log.Log) (*Server, error) {
	if handler == nil {
		return nil, transport.ErrHandlerRequired
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:  config,
		handler: handler,
		logger:  logger.With(log.String("transport", "websocket")),
		clients: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.BufferSize,
			WriteBufferSize: config.BufferSize,
			CheckOrigin: func(r *http.Request) bool {
				// In production, implement proper origin checking
				return true
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start begins listening and serving upgrade requests.
func (s *Server) Start() error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return transport.ErrAlreadyRunning
	}
	s.startTime = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)

	addr := net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port))
	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.KeepAliveTimeout,
	}

	go func() {
		var err error
		if s.config.TLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server error", log.Error(err))
		}
	}()

	s.logger.Info("WebSocket transport started", log.String("address", addr))
	return nil
}

// Stop closes every client connection and shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return transport.ErrServerClosed
	}

	s.cancel()

	s.clientsMu.Lock()
	for _, client := range s.clients {
		_ = client.Close()
	}
	s.clients = make(map[string]*Connection)
	s.clientsMu.Unlock()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return errors.Wrap(err, "failed to shutdown HTTP server")
		}
	}

	s.wg.Wait()

	s.logger.Info("WebSocket transport stopped")
	return nil
}

// IsRunning returns true if the server is accepting connections.
func (s *Server) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// Stats returns transport counters.
func (s *Server) Stats() transport.Stats {
	stats := transport.Stats{
		ConnectionsAccepted: atomic.LoadUint64(&s.stats.ConnectionsAccepted),
		ConnectionsActive:   atomic.LoadUint64(&s.stats.ConnectionsActive),
		MessagesReceived:    atomic.LoadUint64(&s.stats.MessagesReceived),
		UpgradeErrors:       atomic.LoadUint64(&s.stats.UpgradeErrors),
	}
	stats.Uptime = time.Since(s.startTime)
	return stats
}

// handleUpgrade handles WebSocket upgrade requests.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", log.Error(err))
		atomic.AddUint64(&s.stats.UpgradeErrors, 1)
		return
	}

	client := NewConnection(conn, s.config)
	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}

	s.clientsMu.Lock()
	s.clients[client.ID()] = client
	s.clientsMu.Unlock()

	atomic.AddUint64(&s.stats.ConnectionsAccepted, 1)
	atomic.AddUint64(&s.stats.ConnectionsActive, 1)

	s.logger.Debug("Client connected",
		log.String("connection_id", client.ID()),
		log.String("remote_addr", client.RemoteAddr().String()))

	s.handler.HandleOpen(client)

	s.wg.Add(1)
	go s.readLoop(client)
}

// readLoop pumps frames from one client into the handler. It is the
// single producer of upcalls for its connection.
func (s *Server) readLoop(client *Connection) {
	defer s.wg.Done()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID())
		s.clientsMu.Unlock()

		atomic.AddUint64(&s.stats.ConnectionsActive, ^uint64(0)) // Decrement

		_ = client.Close()
		s.handler.HandleClose(client)

		s.logger.Debug("Client disconnected", log.String("connection_id", client.ID()))
	}()

	client.SetPongHandler(func(string) error { return nil })

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := client.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-s.ctx.Done():
				return
			}
		}
	}()

	for {
		text, err := client.receive()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Debug("WebSocket read error", log.Error(err))
			}
			return
		}

		atomic.AddUint64(&s.stats.MessagesReceived, 1)
		s.handler.HandleMessage(client, text)
	}
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.clientsMu.RLock()
	count := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status":"healthy","connections":%d}`, count)
}
