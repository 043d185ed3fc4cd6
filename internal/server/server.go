// Package server exposes the chat engine over REST and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"branchchat/internal/chat"
	"branchchat/internal/event"
	"branchchat/internal/llm"
)

// Server is the HTTP/WebSocket front of the chat engine
type Server struct {
	addr    string
	chat    *chat.Service
	llm     *llm.Router
	bus     *event.Bus
	server  *http.Server
	mu      sync.RWMutex
	clients map[string]*wsClient
}

// New creates a server
func New(addr string, chatSvc *chat.Service, llmRouter *llm.Router, bus *event.Bus) *Server {
	s := &Server{
		addr:    addr,
		chat:    chatSvc,
		llm:     llmRouter,
		bus:     bus,
		clients: make(map[string]*wsClient),
	}

	// Fan message lifecycle events out to every connected client so
	// secondary sessions can refresh their tree views.
	bus.Subscribe([]string{"message.*"}, func(evt *event.Event) {
		s.broadcastEvent(evt)
	})

	return s
}

// handler builds the route table
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("PUT /api/conversations/{id}/title", s.handleUpdateTitle)
	mux.HandleFunc("GET /api/conversations/{id}/tree", s.handleConversationTree)

	mux.HandleFunc("POST /api/chat/send", s.handleChatSend)
	mux.HandleFunc("GET /api/chat/history/{id}", s.handleChatHistory)
	mux.HandleFunc("POST /api/chat/regenerate/{id}", s.handleRegenerate)

	mux.HandleFunc("POST /api/providers", s.handleCreateProvider)
	mux.HandleFunc("GET /api/providers", s.handleListProviders)
	mux.HandleFunc("GET /api/providers/active", s.handleActiveProvider)
	mux.HandleFunc("GET /api/providers/{id}", s.handleGetProvider)
	mux.HandleFunc("PUT /api/providers/{id}", s.handleUpdateProvider)
	mux.HandleFunc("DELETE /api/providers/{id}", s.handleDeleteProvider)
	mux.HandleFunc("POST /api/providers/{id}/activate", s.handleActivateProvider)
	mux.HandleFunc("POST /api/providers/{id}/test", s.handleTestProvider)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return corsMiddleware(mux)
}

// Start starts listening. Blocks until Stop or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.handler(),
	}

	log.Info().Str("addr", s.addr).Msg("server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the server
func (s *Server) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Warn().Err(err).Msg("response encoding failed")
		}
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
