package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/warelay/internal/authority"
	"github.com/nextlevelbuilder/warelay/internal/pipeline"
	"github.com/nextlevelbuilder/warelay/internal/store"
)

// ConversationsHandler serves the operator console API.
type ConversationsHandler struct {
	stores    *store.Stores
	authority *authority.Authority
	pipe      *pipeline.Pipeline
	token     string
}

// NewConversationsHandler creates a handler for conversation endpoints.
func NewConversationsHandler(stores *store.Stores, auth *authority.Authority, pipe *pipeline.Pipeline, token string) *ConversationsHandler {
	return &ConversationsHandler{stores: stores, authority: auth, pipe: pipe, token: token}
}

// RegisterRoutes registers all conversation routes on the given mux.
func (h *ConversationsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/conversations", h.authMiddleware(h.handleList))
	mux.HandleFunc("GET /v1/conversations/{id}", h.authMiddleware(h.handleGet))
	mux.HandleFunc("GET /v1/conversations/{id}/messages", h.authMiddleware(h.handleMessages))
	mux.HandleFunc("POST /v1/conversations/{id}/messages", h.authMiddleware(h.handleOperatorSend))
	mux.HandleFunc("POST /v1/conversations/{id}/mode", h.authMiddleware(h.handleSetMode))
	mux.HandleFunc("GET /v1/conversations/{id}/mode-changes", h.authMiddleware(h.handleModeChanges))
	mux.HandleFunc("GET /v1/conversations/{id}/escalations", h.authMiddleware(h.handleEscalations))
}

func (h *ConversationsHandler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" && extractBearerToken(r) != h.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (h *ConversationsHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation ID"})
		return uuid.Nil, false
	}
	return id, true
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (h *ConversationsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	convs, err := h.stores.Conversations.List(r.Context(), r.URL.Query().Get("instance_id"), queryLimit(r, 50))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs})
}

func (h *ConversationsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	conv, err := h.stores.Conversations.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationsHandler) handleMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	msgs, err := h.stores.Messages.History(r.Context(), id, queryLimit(r, 100))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// handleOperatorSend relays an operator-authored message. Sending while the
// conversation is AUTOMATED flips it to HUMAN first.
func (h *ConversationsHandler) handleOperatorSend(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Text  string `json:"text"`
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	outcome, err := h.pipe.HandleOperatorOutbound(r.Context(), id, req.Actor, req.Text)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (h *ConversationsHandler) handleSetMode(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Mode  string `json:"mode"`
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	target := store.Mode(req.Mode)
	if !target.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode must be AUTOMATED or HUMAN"})
		return
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	prev, err := h.authority.Set(r.Context(), id, target, req.Actor, authority.ReasonOperatorToggle)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(target), "previous": string(prev)})
}

func (h *ConversationsHandler) handleModeChanges(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	changes, err := h.stores.Modes.Changes(r.Context(), id, queryLimit(r, 50))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"changes": changes})
}

func (h *ConversationsHandler) handleEscalations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	escalations, err := h.stores.Escalations.List(r.Context(), id, queryLimit(r, 50))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"escalations": escalations})
}
