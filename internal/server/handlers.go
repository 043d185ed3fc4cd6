package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"branchchat/internal/chat"
	"branchchat/internal/llm"
	"branchchat/internal/storage"
	"branchchat/internal/tree"
)

func pathID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}

// CreateConversationRequest creates a conversation
type CreateConversationRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title == "" {
		req.Title = "New Conversation"
	}

	conv := &storage.Conversation{Title: req.Title}
	if err := storage.CreateConversation(conv); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	conversations, err := storage.ListConversations(offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := storage.GetConversation(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	messages, err := storage.GetConversationMessages(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	conv.Messages = messages
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := storage.DeleteConversation(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateTitleRequest renames a conversation
type UpdateTitleRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req UpdateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := storage.GetConversation(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	conv.Title = req.Title
	if err := storage.UpdateConversation(conv); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// ConversationTreeResponse is the branching view of a conversation
type ConversationTreeResponse struct {
	ConversationID uint         `json:"conversation_id"`
	Title          string       `json:"title"`
	RootMessages   []*tree.Node `json:"root_messages"`
}

func (s *Server) handleConversationTree(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := storage.GetConversation(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	roots, err := tree.Build(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ConversationTreeResponse{
		ConversationID: conv.ID,
		Title:          conv.Title,
		RootMessages:   roots,
	})
}

// ChatRequest is one synchronous chat turn
type ChatRequest struct {
	ConversationID uint   `json:"conversation_id"`
	ParentID       *uint  `json:"parent_id"`
	Message        string `json:"message"`
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	turn, err := s.chat.Send(r.Context(), req.ConversationID, req.ParentID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "Conversation not found")
		case errors.Is(err, llm.ErrNoActiveProvider):
			writeError(w, http.StatusBadRequest, "No active LLM provider found. Please configure a provider first.")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

// ChatHistoryResponse is a linear message sequence
type ChatHistoryResponse struct {
	ConversationID uint              `json:"conversation_id"`
	Messages       []storage.Message `json:"messages"`
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := storage.GetConversation(id); err != nil {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}

	var messages []storage.Message
	if from := r.URL.Query().Get("from_message_id"); from != "" {
		fromID, err := strconv.ParseUint(from, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from_message_id")
			return
		}
		messages, err = tree.Path(uint(fromID))
		if err != nil {
			writeError(w, http.StatusNotFound, "Message not found")
			return
		}
	} else {
		messages, err = storage.GetConversationMessages(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, ChatHistoryResponse{ConversationID: id, Messages: messages})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := s.chat.Regenerate(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "Message not found")
		case errors.Is(err, chat.ErrInvalidRole):
			writeError(w, http.StatusBadRequest, "Can only regenerate assistant messages")
		case errors.Is(err, llm.ErrNoActiveProvider):
			writeError(w, http.StatusBadRequest, "No active LLM provider found. Please configure a provider first.")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to regenerate response")
		}
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// ProviderRequest creates a provider config
type ProviderRequest struct {
	Name      string `json:"name"`
	ModelName string `json:"model_name"`
	APIKey    string `json:"api_key"`
	APIURL    string `json:"api_url"`
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req ProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.ModelName == "" {
		writeError(w, http.StatusBadRequest, "name and model_name are required")
		return
	}
	if _, err := storage.GetProviderByName(req.Name); err == nil {
		writeError(w, http.StatusBadRequest, "Provider with name '"+req.Name+"' already exists")
		return
	}

	p := &storage.Provider{
		Name:      req.Name,
		ModelName: req.ModelName,
		APIKey:    req.APIKey,
		APIURL:    req.APIURL,
	}
	// Family is resolved once here, not per request. A config that doesn't
	// resolve is still stored; it fails at dispatch time.
	if family, err := llm.ResolveFamily(req.Name, req.ModelName); err == nil {
		p.Family = string(family)
	}

	if err := storage.CreateProvider(p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := storage.ListProviders()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (s *Server) handleActiveProvider(w http.ResponseWriter, r *http.Request) {
	p, err := storage.GetActiveProvider()
	if err != nil {
		writeError(w, http.StatusNotFound, "No active provider found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := storage.GetProvider(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Provider not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ProviderUpdateRequest is a partial provider update
type ProviderUpdateRequest struct {
	ModelName *string `json:"model_name"`
	APIKey    *string `json:"api_key"`
	APIURL    *string `json:"api_url"`
	IsActive  *bool   `json:"is_active"`
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ProviderUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := storage.GetProvider(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Provider not found")
		return
	}

	credentialsChanged := false
	if req.ModelName != nil {
		p.ModelName = *req.ModelName
	}
	if req.APIKey != nil && *req.APIKey != p.APIKey {
		p.APIKey = *req.APIKey
		credentialsChanged = true
	}
	if req.APIURL != nil && *req.APIURL != p.APIURL {
		p.APIURL = *req.APIURL
		credentialsChanged = true
	}
	if family, err := llm.ResolveFamily(p.Name, p.ModelName); err == nil {
		p.Family = string(family)
	} else {
		p.Family = ""
	}

	if err := storage.UpdateProvider(p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if credentialsChanged {
		// A cached backend client built from the old key or URL is stale
		s.llm.InvalidateProvider(p.ID)
	}

	// Activation keeps the single-active invariant; a plain flag write
	// would not.
	if req.IsActive != nil {
		if *req.IsActive {
			if p, err = storage.ActivateProvider(p.ID); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		} else if p.IsActive {
			p.IsActive = false
			if err := storage.UpdateProvider(p); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := storage.DeleteProvider(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Provider not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.llm.InvalidateProvider(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateProvider(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := storage.ActivateProvider(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Provider not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Provider '" + p.Name + "' activated successfully",
	})
}

// TestProviderRequest is an optional test message override
type TestProviderRequest struct {
	Message string `json:"message"`
}

const testMaxTokens = 100

func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := storage.GetProvider(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Provider not found")
		return
	}

	var req TestProviderRequest
	json.NewDecoder(r.Body).Decode(&req)
	if req.Message == "" {
		req.Message = "Hello, this is a test message."
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	response, err := s.llm.Generate(ctx, p, []llm.Message{{Role: "user", Content: req.Message}}, testMaxTokens)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":  false,
			"provider": p.Name,
			"error":    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"provider":     p.Name,
		"test_message": req.Message,
		"response":     response,
	})
}
