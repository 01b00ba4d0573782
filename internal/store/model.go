package store

import "time"

// Status is the conversation lifecycle state. Conversations start bot-handled
// and move to human handling through pending_handoff; claimed, active and
// resolved are written by the agent console, outside this service.
type Status string

const (
	StatusBot            Status = "bot"
	StatusPendingHandoff Status = "pending_handoff"
	StatusClaimed        Status = "claimed"
	StatusActive         Status = "active"
	StatusResolved       Status = "resolved"
)

// ParseStatus normalizes a stored status string; anything unknown or empty
// is treated as bot so a malformed document never blocks replies.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusPendingHandoff, StatusClaimed, StatusActive, StatusResolved:
		return Status(s)
	}
	return StatusBot
}

// Handled reports whether a human owns (or is about to own) the conversation,
// which suppresses automated replies.
func (s Status) Handled() bool {
	return s == StatusPendingHandoff || s == StatusClaimed || s == StatusActive
}

// CanTransition enumerates the edges this service is allowed to take.
// Transitions to claimed/active are the agent console's job and are rejected
// here.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusBot:
		// Reopen after resolved, or forced return from human handling.
		return true
	case StatusPendingHandoff:
		return from == StatusBot || from == StatusResolved
	}
	return false
}

// Message direction and author values.
const (
	DirectionIn  = "in"
	DirectionOut = "out"

	ByUser = "user"
	ByBot  = "bot"
)

// Conversation is one WhatsApp contact's conversation document.
type Conversation struct {
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`

	Status        Status `json:"status"`
	HandoffActive bool   `json:"handoff_active"`
	Assignee      string `json:"assignee,omitempty"`
	AssigneeName  string `json:"assignee_name,omitempty"`

	LastMessageText string `json:"last_message_text"`
	LastInFrom      string `json:"last_in_from,omitempty"`
	ProfileName     string `json:"wa_profile_name,omitempty"`

	SessionParameters Params `json:"session_parameters,omitempty"`

	UnreadForAssignee int `json:"unread_for_assignee"`

	PendingSince  *time.Time `json:"pending_since,omitempty"`
	LastInboundAt *time.Time `json:"last_inbound_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	LockVersion int64 `json:"lock_version"`
}

// Message is one immutable inbound or outbound message. Transcription fields
// are the only in-place enrichment allowed after creation.
type Message struct {
	MessageID string `json:"message_id"`
	Direction string `json:"direction"`
	By        string `json:"by"`
	Text      string `json:"text"`

	MediaURL  string `json:"media_url,omitempty"`
	MediaType string `json:"media_type,omitempty"`

	Transcription       string `json:"transcription,omitempty"`
	TranscriptionSource string `json:"transcription_source,omitempty"`
	OriginalMediaType   string `json:"original_media_type,omitempty"`

	Timestamp time.Time `json:"ts"`
}

// ConversationUpdate is a merge-style partial update: nil fields are left
// untouched, non-nil fields overwrite (an empty string clears). updated_at
// and lock_version are refreshed on every apply.
type ConversationUpdate struct {
	Status            *Status
	HandoffActive     *bool
	Assignee          *string
	AssigneeName      *string
	LastMessageText   *string
	LastInFrom        *string
	ProfileName       *string
	SessionParameters *Params
	PendingSince      *time.Time
	LastInboundAt     *time.Time
}

// MessageUpdate enriches an existing message; the core fields never change.
type MessageUpdate struct {
	Transcription       *string
	TranscriptionSource *string
	OriginalMediaType   *string
}

// Store is the conversation repository consumed by the webhook handler and
// the turn processor. Implementations must be safe for concurrent callers.
type Store interface {
	// EnsureConversation creates the conversation with default bot status if
	// absent and reports whether it already existed.
	EnsureConversation(conversationID, sessionID string) (*Conversation, bool, error)

	GetConversation(conversationID string) (*Conversation, error)

	// AddMessageIfNew persists the message unless one with the same id
	// already exists under the conversation; it reports whether a record was
	// created. A false return is the duplicate-delivery signal.
	AddMessageIfNew(conversationID string, msg Message) (bool, error)

	UpdateConversation(conversationID string, upd ConversationUpdate) error
	UpdateMessage(conversationID, messageID string, upd MessageUpdate) error

	Close() error
}
