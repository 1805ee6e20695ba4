// Package server exposes the voxatar transport boundary: a WebSocket
// endpoint per session carrying inbound message envelopes and the ordered
// outbound event stream, plus session management, health, and metrics
// routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxatar/voxatar/internal/health"
	"github.com/voxatar/voxatar/internal/pipeline"
	"github.com/voxatar/voxatar/internal/registry"
	"github.com/voxatar/voxatar/pkg/event"
	"github.com/voxatar/voxatar/pkg/fault"
)

// outboundBuffer is the per-connection queue of events awaiting delivery.
// A slow client drops events rather than stalling the session pipeline.
const outboundBuffer = 256

// writeTimeout bounds a single outbound frame write.
const writeTimeout = 10 * time.Second

// Config configures a [Server].
type Config struct {
	// ListenAddr is the TCP address to listen on (e.g., ":8080").
	ListenAddr string

	// Health serves the /healthz and /readyz probes. Nil means a handler
	// with no readiness checks.
	Health *health.Handler

	Logger *slog.Logger
}

// Server is the HTTP/WebSocket front of the session registry. Create it
// with [New], hand its per-session sinks to the pipeline factory, then call
// [Server.AttachRegistry] before serving.
type Server struct {
	addr   string
	logger *slog.Logger
	mux    *http.ServeMux
	http   *http.Server

	mu       sync.RWMutex
	registry *registry.Registry
	subs     map[string]chan event.Outbound
}

// New creates a Server and registers its routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}

	s := &Server{
		addr:   cfg.ListenAddr,
		logger: cfg.Logger,
		mux:    http.NewServeMux(),
		subs:   make(map[string]chan event.Outbound),
	}
	s.mux.HandleFunc("POST /session", s.handleCreateSession)
	s.mux.HandleFunc("DELETE /session/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /session/{id}/ws", s.handleSessionWS)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	cfg.Health.Register(s.mux)

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// AttachRegistry binds the session registry. Must be called before the
// server accepts traffic.
func (s *Server) AttachRegistry(r *registry.Registry) {
	s.mu.Lock()
	s.registry = r
	s.mu.Unlock()
}

// SessionSink returns the outbound sink for sessionID. Events are forwarded
// to the currently attached WebSocket client; with no client attached, or
// with the client too slow to keep up, events are dropped.
func (s *Server) SessionSink(sessionID string) pipeline.Sink {
	return pipeline.SinkFunc(func(ev event.Outbound) {
		s.mu.RLock()
		ch, ok := s.subs[sessionID]
		s.mu.RUnlock()
		if !ok {
			return
		}
		select {
		case ch <- ev:
		default:
			s.logger.Warn("dropping outbound event for slow client",
				"session_id", sessionID,
				"kind", ev.Kind)
		}
	})
}

// ListenAndServe blocks serving HTTP until Shutdown is called. certFile and
// keyFile enable TLS when both are non-empty.
func (s *Server) ListenAndServe(certFile, keyFile string) error {
	s.logger.Info("server listening", "addr", s.addr, "tls", certFile != "")
	var err error
	if certFile != "" && keyFile != "" {
		err = s.http.ListenAndServeTLS(certFile, keyFile)
	} else {
		err = s.http.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight HTTP requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the route mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) getRegistry() *registry.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry
}

// handleCreateSession mints a fresh session and returns its id.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	reg := s.getRegistry()
	if reg == nil {
		http.Error(w, "registry not attached", http.StatusServiceUnavailable)
		return
	}
	p, err := reg.Open("")
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": p.SessionID()})
}

// handleDeleteSession closes the session and discards any in-flight turn.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	reg := s.getRegistry()
	if reg == nil {
		http.Error(w, "registry not attached", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	if _, ok := reg.Get(id); !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	reg.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

// ack is the synchronous reply to each inbound envelope.
type ack struct {
	Type   string       `json:"type"`
	Accept event.Accept `json:"accept,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// handleSessionWS upgrades the connection and bridges it to the session
// pipeline: inbound JSON envelopes are routed through the registry, and the
// session's outbound events are forwarded as JSON frames.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	reg := s.getRegistry()
	if reg == nil {
		http.Error(w, "registry not attached", http.StatusServiceUnavailable)
		return
	}
	sessionID := r.PathValue("id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.CloseNow()

	if _, err := reg.Open(sessionID); err != nil {
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := s.subscribe(sessionID)
	defer s.unsubscribe(sessionID, outbound)

	go s.writeLoop(ctx, conn, sessionID, outbound)
	s.readLoop(ctx, conn, reg, sessionID)
	conn.Close(websocket.StatusNormalClosure, "session detached")
}

// readLoop consumes inbound envelopes until the client disconnects.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, reg *registry.Registry, sessionID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.logger.Debug("websocket read ended", "session_id", sessionID, "error", err)
			}
			return
		}

		var env event.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.writeAck(ctx, conn, ack{Type: "ack", Error: "malformed envelope"})
			continue
		}
		// The URL path names the session; the envelope may not redirect it.
		env.SessionID = sessionID

		accept, err := reg.HandleInbound(env)
		reply := ack{Type: "ack", Accept: accept}
		if err != nil {
			reply.Error = userSafeInboundError(err)
		}
		s.writeAck(ctx, conn, reply)
	}
}

// writeLoop forwards outbound pipeline events to the client.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sessionID string, outbound <-chan event.Outbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-outbound:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("marshal outbound event", "session_id", sessionID, "error", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Debug("websocket write ended", "session_id", sessionID, "error", err)
				}
				return
			}
		}
	}
}

func (s *Server) writeAck(ctx context.Context, conn *websocket.Conn, a ack) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil && ctx.Err() == nil {
		s.logger.Debug("ack write failed", "error", err)
	}
}

// subscribe attaches a fresh outbound channel for sessionID, replacing any
// previous subscriber. Channels are never closed: the pipeline may be
// mid-send when a connection turns over, so a superseded channel is simply
// left to drain into the void and collected with its writeLoop.
func (s *Server) subscribe(sessionID string) chan event.Outbound {
	ch := make(chan event.Outbound, outboundBuffer)
	s.mu.Lock()
	s.subs[sessionID] = ch
	s.mu.Unlock()
	return ch
}

// unsubscribe detaches ch unless a newer connection has already replaced
// it.
func (s *Server) unsubscribe(sessionID string, ch chan event.Outbound) {
	s.mu.Lock()
	if cur, ok := s.subs[sessionID]; ok && cur == ch {
		delete(s.subs, sessionID)
	}
	s.mu.Unlock()
}

// userSafeInboundError reduces routing errors to wire-safe text.
func userSafeInboundError(err error) string {
	switch {
	case errors.Is(err, fault.ErrSessionBusy):
		return "a turn is already in progress"
	case errors.Is(err, fault.ErrSessionClosed):
		return "the session is closed"
	case errors.Is(err, fault.ErrInvalidInput):
		return fmt.Sprintf("invalid message: %v", err)
	default:
		return "the message could not be processed"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
