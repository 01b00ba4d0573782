package twilio

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// InboundFunc receives each normalized inbound notification. A returned
// error means the message could not be durably recorded and Twilio should
// redeliver; anything that happens after recording must not surface here.
type InboundFunc func(in Inbound) error

type WebhookHandler struct {
	authToken string
	onInbound InboundFunc
}

// NewWebhookHandler validates inbound requests against authToken; an empty
// token disables signature checking (local development).
func NewWebhookHandler(authToken string, onInbound InboundFunc) *WebhookHandler {
	return &WebhookHandler{authToken: authToken, onInbound: onInbound}
}

// HandleIncoming processes one webhook POST and always answers with an
// empty TwiML document so Twilio does not send an auto-reply of its own.
func (h *WebhookHandler) HandleIncoming(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		log.Warn().Err(err).Msg("webhook: malformed form payload")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if h.authToken != "" {
		sig := r.Header.Get("X-Twilio-Signature")
		reqURL := RequestURL(r)
		if !ValidSignature(h.authToken, reqURL, r.PostForm, sig) {
			log.Warn().
				Str("url", reqURL).
				Str("proto", r.Header.Get("X-Forwarded-Proto")).
				Str("host", r.Header.Get("X-Forwarded-Host")).
				Msg("webhook: invalid twilio signature")
			http.Error(w, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	in := ExtractInbound(r.PostForm, r.Header.Get("I-Twilio-Idempotency-Token"))

	if err := h.onInbound(in); err != nil {
		log.Error().Err(err).Str("conversation_id", in.ConversationID).Msg("webhook: inbound ingestion failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	WriteEmptyTwiML(w)
}

// HandleTwiMLTest lets operators confirm the empty-response wiring.
func (h *WebhookHandler) HandleTwiMLTest(w http.ResponseWriter, _ *http.Request) {
	WriteEmptyTwiML(w)
}

// WriteEmptyTwiML acknowledges a webhook with no reply instruction.
func WriteEmptyTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<Response></Response>"))
}
