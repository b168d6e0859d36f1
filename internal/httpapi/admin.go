package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/warelay/internal/store"
)

// AdminHandler serves agent registration and listing upload endpoints.
type AdminHandler struct {
	stores *store.Stores
	token  string
}

// NewAdminHandler creates a handler for admin endpoints.
func NewAdminHandler(stores *store.Stores, token string) *AdminHandler {
	return &AdminHandler{stores: stores, token: token}
}

// RegisterRoutes registers all admin routes on the given mux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/agents", h.authMiddleware(h.handlePutAgent))
	mux.HandleFunc("GET /v1/agents/{instance}", h.authMiddleware(h.handleGetAgent))
	mux.HandleFunc("POST /v1/listings", h.authMiddleware(h.handlePutListing))
}

func (h *AdminHandler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" && extractBearerToken(r) != h.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (h *AdminHandler) handlePutAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InstanceID        string `json:"instance_id"`
		BridgeToken       string `json:"bridge_token"`
		FullName          string `json:"full_name"`
		AssistantName     string `json:"assistant_name"`
		SpeakingStyle     string `json:"speaking_style"`
		CustomInstruction string `json:"custom_instruction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.InstanceID == "" || req.BridgeToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "instance_id and bridge_token are required"})
		return
	}

	ag := &store.Agent{
		InstanceID:        req.InstanceID,
		BridgeToken:       req.BridgeToken,
		FullName:          req.FullName,
		AssistantName:     req.AssistantName,
		SpeakingStyle:     req.SpeakingStyle,
		CustomInstruction: req.CustomInstruction,
		Active:            true,
	}
	if err := h.stores.Agents.Put(r.Context(), ag); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, ag)
}

func (h *AdminHandler) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	ag, err := h.stores.Agents.GetByInstance(r.Context(), r.PathValue("instance"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ag)
}

func (h *AdminHandler) handlePutListing(w http.ResponseWriter, r *http.Request) {
	var l store.Listing
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if l.AgentID == uuid.Nil || l.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id and title are required"})
		return
	}
	l.Active = true
	if err := h.stores.Listings.Put(r.Context(), &l); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, l)
}
