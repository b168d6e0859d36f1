package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/warelay/internal/bus"
	"github.com/nextlevelbuilder/warelay/internal/dedup"
	"github.com/nextlevelbuilder/warelay/internal/pipeline"
	"github.com/nextlevelbuilder/warelay/internal/store"
)

// webhookPayload is the bridge's notification shape. Only the fields the
// control core reads are declared.
type webhookPayload struct {
	TypeWebhook  string `json:"typeWebhook"`
	Timestamp    int64  `json:"timestamp"`
	IDMessage    string `json:"idMessage"`
	InstanceData struct {
		IDInstance json.Number `json:"idInstance"`
	} `json:"instanceData"`
	SenderData struct {
		ChatID     string `json:"chatId"`
		SenderName string `json:"senderName"`
	} `json:"senderData"`
	MessageData struct {
		TypeMessage     string `json:"typeMessage"`
		TextMessageData struct {
			TextMessage string `json:"textMessage"`
		} `json:"textMessageData"`
		ExtendedTextMessageData struct {
			Text string `json:"text"`
		} `json:"extendedTextMessageData"`
	} `json:"messageData"`
}

// WebhookHandler receives bridge notifications and feeds them to the pipeline.
type WebhookHandler struct {
	gate    *dedup.Gate
	pipe    *pipeline.Pipeline
	limiter *WebhookRateLimiter
}

// NewWebhookHandler creates the webhook ingress handler.
func NewWebhookHandler(gate *dedup.Gate, pipe *pipeline.Pipeline, limiter *WebhookRateLimiter) *WebhookHandler {
	return &WebhookHandler{gate: gate, pipe: pipe, limiter: limiter}
}

// RegisterRoutes registers the webhook route on the given mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/wa", h.handleWebhook)
}

func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	ev, ok := h.extract(payload)
	if !ok {
		// Not a text message for us; ack so the bridge stops redelivering.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if h.limiter != nil && !h.limiter.Allow(ev.InstanceID+":"+ev.ContactID) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
		return
	}

	if !h.gate.Admit(ev.Fingerprint()) {
		slog.Info("duplicate webhook suppressed", "instance_id", ev.InstanceID, "contact_id", ev.ContactID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	outcome, err := h.pipe.HandleInbound(r.Context(), ev)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// No agent registered for this instance. Ack: redelivery cannot fix it.
			slog.Warn("webhook for unknown instance", "instance_id", ev.InstanceID)
			writeJSON(w, http.StatusOK, map[string]string{"status": "unknown_instance"})
			return
		}
		slog.Error("webhook processing failed", "instance_id", ev.InstanceID, "contact_id", ev.ContactID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "outcome": string(outcome)})
}

// extract reduces the bridge payload to an inbound event. Returns false for
// notification types and message types the core does not process.
func (h *WebhookHandler) extract(p webhookPayload) (bus.InboundEvent, bool) {
	if p.TypeWebhook != "incomingMessageReceived" {
		return bus.InboundEvent{}, false
	}

	var body string
	switch p.MessageData.TypeMessage {
	case "textMessage":
		body = p.MessageData.TextMessageData.TextMessage
	case "extendedTextMessage":
		body = p.MessageData.ExtendedTextMessageData.Text
	default:
		return bus.InboundEvent{}, false
	}
	if strings.TrimSpace(body) == "" {
		return bus.InboundEvent{}, false
	}

	contact := strings.TrimSuffix(p.SenderData.ChatID, "@c.us")
	contact = strings.TrimSuffix(contact, "@g.us")
	if contact == "" || p.InstanceData.IDInstance.String() == "" {
		return bus.InboundEvent{}, false
	}

	return bus.InboundEvent{
		InstanceID:  p.InstanceData.IDInstance.String(),
		ContactID:   contact,
		DisplayName: p.SenderData.SenderName,
		Body:        body,
		ExternalID:  p.IDMessage,
		Timestamp:   p.Timestamp,
	}, true
}
