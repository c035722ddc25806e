// Package server exposes the conversation loop over WebSocket. Each
// connection gets its own session and loop; messages are plain text in,
// JSON replies out.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/engramdev/engram/chat"
	"github.com/engramdev/engram/core"
)

// LoopFactory builds a conversation loop for a new session. The server
// calls it once per WebSocket connection.
type LoopFactory func(sessionID string) *chat.Loop

// Config holds the HTTP listener settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// AllowAnyOrigin disables the same-origin check on WebSocket upgrades.
	AllowAnyOrigin bool

	// ReadLimit caps inbound message size in bytes. Zero means 1 MiB.
	ReadLimit int64
}

// Reply is the JSON frame sent for each completed turn.
type Reply struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Server serves the chat WebSocket endpoint and a health check.
type Server struct {
	cfg      Config
	newLoop  LoopFactory
	upgrader websocket.Upgrader
}

// New creates a server that spins up a loop per connection.
func New(cfg Config, newLoop LoopFactory) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	return &Server{
		cfg:     cfg,
		newLoop: newLoop,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				// Non-browser clients omit Origin. Allow them.
				if origin == "" {
					return true
				}
				return strings.Contains(origin, r.Host)
			},
		},
	}
}

// Handler returns the HTTP mux with /ws and /health routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// ListenAndServe blocks serving HTTP until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[SERVER] listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleWS runs a full conversation over one connection. Each text frame
// is a user turn; the reply frame carries the assistant response or the
// turn error.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = core.NewSessionID()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.cfg.ReadLimit)
	loop := s.newLoop(sessionID)
	if loop == nil {
		log.Printf("[SERVER] session %s rejected: no loop available", sessionID)
		return
	}
	defer loop.Close()

	log.Printf("[SERVER] session %s connected", sessionID)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[SERVER] session %s disconnected: %v", sessionID, err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		reply := Reply{SessionID: sessionID}
		text, err := loop.Turn(r.Context(), string(data))
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.Text = text
		}

		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(reply); err != nil {
			log.Printf("[SERVER] session %s write failed: %v", sessionID, err)
			return
		}
		if loop.State() == chat.StateClosed {
			return
		}
	}
}
