package bot

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/modavia/celia/internal/buffer"
	"github.com/modavia/celia/internal/store"
	"github.com/modavia/celia/internal/transcribe"
	"github.com/modavia/celia/internal/twilio"
)

// processTurn runs one conversation turn end to end: suppression checks,
// resolved reopen, audio transcription, the AI backend call, handoff
// detection and the idempotent reply dispatch. It runs on a buffer timer or
// a detached goroutine, so it never returns an error; failures are logged
// and, where the user would otherwise hear silence, answered with the
// stability fallback.
func (h *Handler) processTurn(t buffer.Turn) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("conversation_id", t.ConversationID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("turn processing panicked")
		}
	}()

	ctx := context.Background()

	log.Info().
		Str("conversation_id", t.ConversationID).
		Str("turn_id", t.TurnID).
		Int("message_count", t.MessageCount).
		Msg("processing turn")

	conv := t.Context.Conversation
	status := store.ParseStatus(string(conv.Status))
	handoffActive := conv.HandoffActive
	outMsgID := "bot:" + t.TurnID

	if status.Handled() || handoffActive {
		switch {
		case h.settings.DisableHandoff && h.settings.ForceBotWhenDisabled:
			log.Info().
				Str("conversation_id", t.ConversationID).
				Str("status", string(status)).
				Msg("handoff disabled, forcing conversation back to bot")
			if err := h.store.UpdateConversation(t.ConversationID, store.ConversationUpdate{
				Status:        ptr(store.StatusBot),
				HandoffActive: ptr(false),
				Assignee:      ptr(""),
				AssigneeName:  ptr(""),
			}); err != nil {
				log.Error().Err(err).Str("conversation_id", t.ConversationID).Msg("force-bot update failed")
			}
			status = store.StatusBot
			handoffActive = false
		case status == store.StatusPendingHandoff && h.settings.AutoReplyDuringPending:
			log.Info().
				Str("conversation_id", t.ConversationID).
				Msg("replying during pending_handoff without state change")
		default:
			log.Info().
				Str("conversation_id", t.ConversationID).
				Str("status", string(status)).
				Msg("handoff mode, no automated reply")
			return
		}
	}

	overrides := map[string]any{}
	if status == store.StatusResolved {
		log.Info().Str("conversation_id", t.ConversationID).Msg("reopening bot after resolved")
		if err := h.store.UpdateConversation(t.ConversationID, store.ConversationUpdate{
			Status:        ptr(store.StatusBot),
			HandoffActive: ptr(false),
			Assignee:      ptr(""),
			AssigneeName:  ptr(""),
		}); err != nil {
			log.Error().Err(err).Str("conversation_id", t.ConversationID).Msg("resolved reopen update failed")
		}
		status = store.StatusBot

		if h.settings.HandoffParam != "" {
			overrides[h.settings.HandoffParam] = nil
		}
		overrides["handoff_request"] = nil
		overrides["handoff_requested"] = nil
	}

	if name := savedUserName(conv.SessionParameters); name != "" {
		overrides["user_name"] = name
	}

	body := h.maybeTranscribe(ctx, t)

	resp, err := h.intents.DetectIntent(ctx, t.Context.SessionID, body, t.ConversationID, overrides)
	if err != nil {
		log.Error().Err(err).
			Str("conversation_id", t.ConversationID).
			Str("turn_id", t.TurnID).
			Msg("intent detection failed, sending stability fallback")
		h.recordAndSend(ctx, t, outMsgID, FallbackStabilityText)
		return
	}

	if len(resp.Parameters) > 0 {
		params := resp.Parameters
		if err := h.store.UpdateConversation(t.ConversationID, store.ConversationUpdate{
			SessionParameters: &params,
		}); err != nil {
			log.Error().Err(err).Str("conversation_id", t.ConversationID).Msg("session parameter persist failed")
		}
	}

	allowParam := status == store.StatusBot && h.settings.HandoffParam != ""
	requested := handoffRequested(resp.Texts, resp.Parameters, allowParam, h.settings)
	botReply := joinBotTexts(resp.Texts)

	var reply string
	switch {
	case requested && h.settings.DisableHandoff:
		log.Info().Str("conversation_id", t.ConversationID).Msg("handoff requested but disabled")
		reply = firstNonEmpty(h.settings.HandoffDisabledText, botReply, h.settings.HandoffAckText, FallbackStabilityText)
	case requested:
		log.Info().Str("conversation_id", t.ConversationID).Msg("handoff requested, moving to pending_handoff")
		now := time.Now().UTC()
		if err := h.store.UpdateConversation(t.ConversationID, store.ConversationUpdate{
			Status:        ptr(store.StatusPendingHandoff),
			HandoffActive: ptr(false),
			Assignee:      ptr(""),
			AssigneeName:  ptr(""),
			PendingSince:  &now,
		}); err != nil {
			log.Error().Err(err).Str("conversation_id", t.ConversationID).Msg("pending_handoff transition failed")
		}
		reply = firstNonEmpty(botReply, h.settings.HandoffAckText, FallbackStabilityText)
	default:
		reply = firstNonEmpty(botReply, FallbackStabilityText)
	}

	h.recordAndSend(ctx, t, outMsgID, reply)
}

// maybeTranscribe resolves the turn's body, transcribing the first audio
// attachment when transcription is enabled. The transcript replaces the
// audio placeholder in the aggregated body and is also persisted on the
// originating message; with no usable transcript the configured fallback
// text stands in so the backend still receives a meaningful body.
func (h *Handler) maybeTranscribe(ctx context.Context, t buffer.Turn) string {
	body := t.Body
	if h.stt == nil || h.media == nil || !h.settings.TranscriptionEnabled {
		return body
	}
	if t.MediaURL == "" || !transcribe.IsAudioMediaType(t.MediaType) {
		return body
	}

	log.Info().
		Str("conversation_id", t.ConversationID).
		Str("message_id", t.MediaMessageID).
		Str("media_type", t.MediaType).
		Msg("audio received, transcribing")

	var transcript string
	audio, err := h.media.DownloadMedia(ctx, t.MediaURL)
	if err != nil {
		log.Error().Err(err).
			Str("conversation_id", t.ConversationID).
			Str("message_id", t.MediaMessageID).
			Msg("audio download failed")
	} else {
		transcript = h.stt.Transcribe(ctx, audio, t.MediaType)
	}

	if transcript == "" {
		log.Warn().
			Str("conversation_id", t.ConversationID).
			Str("message_id", t.MediaMessageID).
			Msg("audio transcription empty")
		if h.settings.STTFallbackText != "" {
			body = mergeAudioTranscript(body, h.settings.STTFallbackText)
		}
		return body
	}

	body = mergeAudioTranscript(body, transcript)
	log.Info().
		Str("conversation_id", t.ConversationID).
		Str("message_id", t.MediaMessageID).
		Int("transcript_length", len(transcript)).
		Msg("audio transcribed")

	if t.MediaMessageID != "" {
		if err := h.store.UpdateMessage(t.ConversationID, t.MediaMessageID, store.MessageUpdate{
			Transcription:       &transcript,
			OriginalMediaType:   ptr(t.MediaType),
			TranscriptionSource: ptr("google-stt"),
		}); err != nil {
			log.Warn().Err(err).
				Str("conversation_id", t.ConversationID).
				Str("message_id", t.MediaMessageID).
				Msg("transcription persist failed")
		}
	}
	if err := h.store.UpdateConversation(t.ConversationID, store.ConversationUpdate{
		LastMessageText: &body,
	}); err != nil {
		log.Warn().Err(err).
			Str("conversation_id", t.ConversationID).
			Msg("last_message_text refresh after transcription failed")
	}
	return body
}

// mergeAudioTranscript folds a transcript into the turn body: the audio
// placeholder is replaced in place, any other non-empty body gets a labeled
// addendum, and an empty body becomes the transcript itself.
func mergeAudioTranscript(body, transcript string) string {
	if strings.Contains(body, twilio.AudioPlaceholder) {
		return strings.ReplaceAll(body, twilio.AudioPlaceholder, transcript)
	}
	if strings.TrimSpace(body) != "" {
		return body + "\n\n[Transcricao de audio] " + transcript
	}
	return transcript
}

// recordAndSend persists the outbound reply under its idempotency key and
// dispatches it. A duplicate key means another worker already answered this
// turn, so the send is skipped.
func (h *Handler) recordAndSend(ctx context.Context, t buffer.Turn, outMsgID, reply string) {
	created, err := h.store.AddMessageIfNew(t.ConversationID, store.Message{
		MessageID: outMsgID,
		Direction: store.DirectionOut,
		By:        store.ByBot,
		Text:      reply,
	})
	if err != nil {
		log.Error().Err(err).
			Str("conversation_id", t.ConversationID).
			Str("out_msg_id", outMsgID).
			Msg("outbound record failed, reply not sent")
		return
	}
	if !created {
		log.Info().
			Str("conversation_id", t.ConversationID).
			Str("out_msg_id", outMsgID).
			Msg("reply already recorded, skipping send")
		return
	}

	if err := h.sender.SendText(ctx, t.Context.From, reply); err != nil {
		log.Error().Err(err).
			Str("conversation_id", t.ConversationID).
			Str("out_msg_id", outMsgID).
			Str("turn_id", t.TurnID).
			Msg("reply send failed")
		return
	}
	log.Info().
		Str("conversation_id", t.ConversationID).
		Str("out_msg_id", outMsgID).
		Str("turn_id", t.TurnID).
		Msg("reply sent")
}
