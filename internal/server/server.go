// Package server is the HTTP and WebSocket layer over the state registry.
//
// The request handlers are plumbing only: every read goes through the
// registry's lock-scoped accessors and every mutation through its
// orchestration operations, so handlers never hold diff state of their own.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/diffdeck/diffdeck/internal/config"
	"github.com/diffdeck/diffdeck/internal/state"
)

// ChangeEvent is pushed to WebSocket clients when a repository's diff
// drifts from its published baseline.
type ChangeEvent struct {
	Type      string    `json:"type"`
	RepoIdx   int       `json:"repo_idx"`
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
}

// Server serves the diff UI and API for one registry.
type Server struct {
	cfg      *config.Config
	registry *state.Registry
	logger   *log.Logger

	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex
	broadcast chan ChangeEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server for the given configuration and registry.
func New(cfg *config.Config, registry *state.Registry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		registry:  registry,
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan ChangeEvent, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start binds the listener and begins serving. Non-blocking; use Addr for
// the bound address (relevant when the configured port is 0).
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	var handler http.Handler = s.routes()
	if s.cfg.RootPath != "" {
		handler = http.StripPrefix(s.cfg.RootPath, handler)
	}

	s.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("serving on http://%s%s", ln.Addr(), s.cfg.RootPath)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("server error: %v", err)
		}
	}()

	return nil
}

// Stop closes client connections and shuts the server down gracefully.
func (s *Server) Stop() error {
	s.logger.Println("stopping server")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// NotifyChange queues a change event for WebSocket clients. Drops the
// event rather than block when the queue is full.
func (s *Server) NotifyChange(repoIdx int, label string) {
	ev := ChangeEvent{
		Type:      "diff-changed",
		RepoIdx:   repoIdx,
		Label:     label,
		Timestamp: time.Now(),
	}
	select {
	case s.broadcast <- ev:
	case <-s.ctx.Done():
	default:
		s.logger.Println("warning: change event queue full, dropping event")
	}
}

// broadcastLoop fans queued change events out to all connected clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case ev := <-s.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Printf("marshal change event: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades the connection and keeps it registered until
// the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()

	go s.readLoop(conn)
}

// readLoop drains client frames; clients only listen, so reads exist to
// detect disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		s.clientsMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	s.clientsMu.Unlock()
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
