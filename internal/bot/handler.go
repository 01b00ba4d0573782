// Package bot ties the pipeline together: it ingests webhook notifications
// idempotently, feeds them through the aggregation buffer and runs the turn
// processor that talks to the AI backend and dispatches replies.
package bot

import (
	"context"
	"fmt"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/modavia/celia/internal/buffer"
	"github.com/modavia/celia/internal/dialogflow"
	"github.com/modavia/celia/internal/store"
	"github.com/modavia/celia/internal/twilio"
)

// IntentDetector is the AI backend seam; *dialogflow.Client satisfies it.
type IntentDetector interface {
	DetectIntent(ctx context.Context, sessionID, text, userID string, overrides map[string]any) (*dialogflow.Response, error)
}

// TextSender dispatches one outbound WhatsApp message.
type TextSender interface {
	SendText(ctx context.Context, to, body string) error
}

// MediaDownloader fetches webhook media payloads.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error)
}

// SpeechTranscriber turns an audio payload into text; "" means no transcript.
type SpeechTranscriber interface {
	Transcribe(ctx context.Context, audio []byte, mediaType string) string
}

// Settings is the slice of runtime configuration the pipeline acts on.
type Settings struct {
	DisableHandoff         bool
	ForceBotWhenDisabled   bool
	AutoReplyDuringPending bool

	HandoffParam        string
	HandoffMarker       string
	HandoffTextHints    []string
	HandoffAckText      string
	HandoffDisabledText string

	TranscriptionEnabled bool
	STTFallbackText      string

	Aggregation buffer.Config
}

// Handler is the inbound pipeline. One instance serves all conversations.
type Handler struct {
	store    store.Store
	intents  IntentDetector
	sender   TextSender
	media    MediaDownloader
	stt      SpeechTranscriber
	settings Settings

	buffers *buffer.Manager

	// In-process duplicate cache keyed by conversation and inbound id; the
	// store remains the source of truth, this only skips a storage roundtrip
	// on hot redeliveries.
	seen *cache.Cache
}

func NewHandler(s store.Store, intents IntentDetector, sender TextSender, media MediaDownloader, stt SpeechTranscriber, settings Settings) *Handler {
	h := &Handler{
		store:    s,
		intents:  intents,
		sender:   sender,
		media:    media,
		stt:      stt,
		settings: settings,
		seen:     cache.New(24*time.Hour, 30*time.Minute),
	}
	h.buffers = buffer.NewManager(settings.Aggregation, h.processTurn)
	return h
}

// Buffers exposes the aggregation manager for the debug endpoint.
func (h *Handler) Buffers() *buffer.Manager { return h.buffers }

// HandleInbound runs the synchronous half of the pipeline: ensure the
// conversation exists, record the message exactly once, refresh conversation
// metadata and hand the message to the buffer (or straight to a turn). Only
// the ingestion steps can fail the webhook; everything after the return
// happens asynchronously.
func (h *Handler) HandleInbound(in twilio.Inbound) error {
	inboundID := in.InboundID()

	log.Info().
		Str("conversation_id", in.ConversationID).
		Str("inbound_id", inboundID).
		Str("media_type", in.MediaType).
		Msg("inbound message received")

	conv, _, err := h.store.EnsureConversation(in.ConversationID, in.SessionID)
	if err != nil {
		return fmt.Errorf("ensure conversation %s: %w", in.ConversationID, err)
	}

	seenKey := in.ConversationID + "|" + inboundID
	if _, dup := h.seen.Get(seenKey); dup {
		log.Info().
			Str("conversation_id", in.ConversationID).
			Str("inbound_id", inboundID).
			Msg("duplicate delivery dropped (cache)")
		return nil
	}

	created, err := h.store.AddMessageIfNew(in.ConversationID, store.Message{
		MessageID: inboundID,
		Direction: store.DirectionIn,
		By:        store.ByUser,
		Text:      in.Body,
		MediaURL:  in.MediaURL,
		MediaType: in.MediaType,
	})
	if err != nil {
		return fmt.Errorf("record inbound %s: %w", inboundID, err)
	}
	h.seen.SetDefault(seenKey, struct{}{})
	if !created {
		log.Info().
			Str("conversation_id", in.ConversationID).
			Str("inbound_id", inboundID).
			Msg("duplicate delivery dropped (store)")
		return nil
	}

	now := time.Now().UTC()
	upd := store.ConversationUpdate{
		LastMessageText: &in.Body,
		LastInFrom:      ptr(store.ByUser),
		LastInboundAt:   &now,
	}
	if in.ProfileName != "" {
		upd.ProfileName = &in.ProfileName
	}
	if err := h.store.UpdateConversation(in.ConversationID, upd); err != nil {
		// The message is already recorded; a redelivery would be dropped as a
		// duplicate, so the webhook still acks and only the metadata is stale.
		log.Error().Err(err).
			Str("conversation_id", in.ConversationID).
			Msg("conversation metadata refresh failed")
	}

	buffered := h.buffers.Add(in.ConversationID, buffer.Pending{
		InboundID: inboundID,
		Body:      in.Body,
		MediaURL:  in.MediaURL,
		MediaType: in.MediaType,
	}, buffer.Context{
		From:         in.From,
		SessionID:    in.SessionID,
		Conversation: conv,
	})

	if buffered {
		log.Info().
			Str("conversation_id", in.ConversationID).
			Msg("acking webhook (message buffered for aggregation)")
		return nil
	}

	turn := buffer.Turn{
		ConversationID: in.ConversationID,
		TurnID:         inboundID,
		Body:           in.Body,
		MessageCount:   1,
		Context: buffer.Context{
			From:         in.From,
			SessionID:    in.SessionID,
			Conversation: conv,
		},
	}
	if in.MediaURL != "" {
		turn.MediaURL = in.MediaURL
		turn.MediaType = in.MediaType
		turn.MediaMessageID = inboundID
	}
	go h.processTurn(turn)

	log.Info().
		Str("conversation_id", in.ConversationID).
		Msg("acking webhook (turn processing started)")
	return nil
}

func ptr[T any](v T) *T { return &v }
