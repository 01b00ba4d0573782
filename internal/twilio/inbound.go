package twilio

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/modavia/celia/internal/transcribe"
)

// Inbound is the canonical record extracted from one Twilio WhatsApp
// webhook notification.
type Inbound struct {
	From        string
	To          string
	Body        string
	MessageSID  string
	ProfileName string
	WaID        string

	MediaURL  string
	MediaType string

	ConversationID string
	SessionID      string

	// I-Twilio-Idempotency-Token header, used as the inbound id when the
	// notification carries no MessageSid.
	IdempotencyToken string
}

// InboundID picks the stable idempotency key for this notification.
func (in Inbound) InboundID() string {
	if in.MessageSID != "" {
		return in.MessageSID
	}
	if in.IdempotencyToken != "" {
		return in.IdempotencyToken
	}
	return uuid.NewString()
}

// ExtractInbound normalizes the webhook form into an Inbound record. Pure
// function of its input (apart from the random session id fallback).
func ExtractInbound(form url.Values, idempotencyToken string) Inbound {
	in := Inbound{
		From:             form.Get("From"),
		To:               form.Get("To"),
		Body:             form.Get("Body"),
		MessageSID:       form.Get("MessageSid"),
		ProfileName:      strings.TrimSpace(form.Get("ProfileName")),
		WaID:             strings.TrimSpace(form.Get("WaId")),
		IdempotencyToken: strings.TrimSpace(idempotencyToken),
	}

	numMedia, _ := strconv.Atoi(form.Get("NumMedia"))
	if numMedia > 0 {
		in.MediaURL = form.Get("MediaUrl0")
		in.MediaType = form.Get("MediaContentType0")

		if strings.TrimSpace(in.Body) == "" {
			in.Body = mediaPlaceholder(in.MediaType)
		}
	}

	in.SessionID = sessionIDFromAddress(in.From)
	in.ConversationID = conversationID(in.SessionID)
	return in
}

// sessionIDFromAddress strips the channel prefix and separators from the
// sender address. Malformed senders get a random id so they can never
// collide with a real identity.
func sessionIDFromAddress(from string) string {
	if from == "" {
		return uuid.NewString()
	}
	sid := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(from, "whatsapp:", ""), "+", ""))
	if sid == "" {
		return uuid.NewString()
	}
	return sid
}

// conversationID is the session id in E.164 form, usable as a public
// destination address.
func conversationID(sessionID string) string {
	if sessionID == "" || strings.HasPrefix(sessionID, "+") {
		return sessionID
	}
	return "+" + sessionID
}

// mediaPlaceholder stands in for an empty body until (for audio) a
// transcript replaces it.
func mediaPlaceholder(mediaType string) string {
	switch {
	case transcribe.IsAudioMediaType(mediaType):
		return "[Audio]"
	case strings.HasPrefix(mediaType, "image/"):
		return "[Imagem]"
	case strings.HasPrefix(mediaType, "video/"):
		return "[Video]"
	case mediaType != "":
		return "[Documento]"
	}
	return ""
}

// AudioPlaceholder is the token replaced in-place by a successful
// transcription.
const AudioPlaceholder = "[Audio]"
