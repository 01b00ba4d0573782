// Package buffer collapses bursts of rapid-fire messages from one
// conversation into a single aggregated turn. Each conversation gets at most
// one live buffer with one pending timer; the debounce window slides with
// every new message and is hard-capped so total added latency is bounded.
package buffer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/modavia/celia/internal/store"
)

// flushTick is the minimal delay used once the cap is already spent.
const flushTick = 100 * time.Millisecond

type Config struct {
	Enabled bool
	Initial time.Duration // window after the first message of a burst
	Extend  time.Duration // window restart for each follow-up message
	Max     time.Duration // hard cap measured from the first message
}

// Pending is one buffered inbound message.
type Pending struct {
	InboundID string
	Body      string
	MediaURL  string
	MediaType string
}

// Context is the snapshot captured with the first message of a burst;
// the turn processor runs from it, not from a re-read of storage.
type Context struct {
	From         string
	SessionID    string
	Conversation *store.Conversation
}

// Turn is the aggregated unit handed to the flush callback.
type Turn struct {
	ConversationID string
	TurnID         string
	Body           string
	MessageCount   int

	// First media reference found among the burst, in arrival order; the
	// message id it came from is kept so a transcript can be attached to it.
	MediaURL       string
	MediaType      string
	MediaMessageID string

	Context Context
}

// Info is the read-only diagnostic view of one buffer.
type Info struct {
	MessageCount int       `json:"message_count"`
	FirstTS      time.Time `json:"first_ts"`
	HasTimer     bool      `json:"has_timer"`
}

type convBuffer struct {
	mu      sync.Mutex
	flushed bool
	msgs    []Pending
	firstTS time.Time
	timer   *time.Timer
	ctx     Context
}

// Manager owns the conversation-id → buffer registry. The registry lock only
// guards membership; each buffer has its own lock for appends and timer
// rescheduling so a slow flush never blocks unrelated conversations.
type Manager struct {
	mu      sync.Mutex
	buffers map[string]*convBuffer

	cfg   Config
	flush func(Turn)
}

func NewManager(cfg Config, flush func(Turn)) *Manager {
	return &Manager{
		buffers: make(map[string]*convBuffer),
		cfg:     cfg,
		flush:   flush,
	}
}

// Add buffers one inbound message. It returns false when aggregation is
// disabled, in which case the caller processes the message immediately.
func (m *Manager) Add(conversationID string, msg Pending, ctx Context) bool {
	if !m.cfg.Enabled {
		return false
	}

	for {
		b := m.getOrCreate(conversationID)

		b.mu.Lock()
		// The pointer may belong to a buffer that fire or Clear detached
		// from the registry after the lookup; appending there would lose
		// the message, so start over against the registry.
		if b.flushed {
			b.mu.Unlock()
			continue
		}

		now := time.Now()
		if len(b.msgs) == 0 {
			b.firstTS = now
			b.ctx = ctx
		}
		b.msgs = append(b.msgs, msg)

		if b.timer != nil {
			b.timer.Stop()
		}
		delay := m.nextDelay(b, now)

		log.Debug().
			Str("conversation_id", conversationID).
			Int("buffered", len(b.msgs)).
			Dur("delay", delay).
			Msg("message added to aggregation buffer")

		// The callback re-enters through the registry rather than capturing
		// the buffer, so a buffer already flushed (or cleared) is simply not
		// found.
		b.timer = time.AfterFunc(delay, func() { m.fire(conversationID) })
		b.mu.Unlock()
		return true
	}
}

func (m *Manager) getOrCreate(conversationID string) *convBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buffers[conversationID]
	if !ok {
		b = &convBuffer{}
		m.buffers[conversationID] = b
	}
	return b
}

// nextDelay implements the sliding window: the first message waits Initial,
// follow-ups wait Extend, and no wait may push the total past Max. Called
// with b.mu held.
func (m *Manager) nextDelay(b *convBuffer, now time.Time) time.Duration {
	remaining := m.cfg.Max - now.Sub(b.firstTS)
	if remaining <= 0 {
		return flushTick
	}
	if len(b.msgs) <= 1 {
		return min(m.cfg.Initial, remaining)
	}
	return min(m.cfg.Extend, remaining)
}

// fire closes the window for one conversation. Removing the buffer from the
// registry is the first step: a message arriving from here on starts a fresh
// buffer instead of racing with this flush.
func (m *Manager) fire(conversationID string) {
	m.mu.Lock()
	b, ok := m.buffers[conversationID]
	if ok {
		delete(m.buffers, conversationID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	b.mu.Lock()
	b.flushed = true
	msgs := b.msgs
	ctx := b.ctx
	b.timer = nil
	b.mu.Unlock()

	if len(msgs) == 0 {
		return
	}

	turn, ok := buildTurn(conversationID, msgs, ctx)
	if !ok {
		log.Debug().Str("conversation_id", conversationID).Msg("buffer flushed with no usable message bodies")
		return
	}

	log.Info().
		Str("conversation_id", conversationID).
		Int("message_count", turn.MessageCount).
		Str("turn_id", turn.TurnID).
		Msg("processing aggregated messages")

	m.flush(turn)
}

func buildTurn(conversationID string, msgs []Pending, ctx Context) (Turn, bool) {
	bodies := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if s := strings.TrimSpace(msg.Body); s != "" {
			bodies = append(bodies, s)
		}
	}
	if len(bodies) == 0 {
		return Turn{}, false
	}

	body := bodies[0]
	if len(bodies) > 1 {
		body = strings.Join(bodies, " | ")
	}

	turn := Turn{
		ConversationID: conversationID,
		TurnID:         aggregatedID(msgs[0].InboundID, len(msgs)),
		Body:           body,
		MessageCount:   len(msgs),
		Context:        ctx,
	}
	for _, msg := range msgs {
		if msg.MediaURL != "" {
			turn.MediaURL = msg.MediaURL
			turn.MediaType = msg.MediaType
			turn.MediaMessageID = msg.InboundID
			break
		}
	}
	return turn, true
}

func aggregatedID(firstInboundID string, count int) string {
	return fmt.Sprintf("agg:%s:%d", firstInboundID, count)
}

// Clear drops a conversation's buffer and cancels its pending timer.
func (m *Manager) Clear(conversationID string) {
	m.mu.Lock()
	b, ok := m.buffers[conversationID]
	if ok {
		delete(m.buffers, conversationID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	b.mu.Lock()
	b.flushed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
}

// Snapshot returns a read-only view of the live buffers for diagnostics.
func (m *Manager) Snapshot() map[string]Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Info, len(m.buffers))
	for id, b := range m.buffers {
		b.mu.Lock()
		out[id] = Info{
			MessageCount: len(b.msgs),
			FirstTS:      b.firstTS,
			HasTimer:     b.timer != nil,
		}
		b.mu.Unlock()
	}
	return out
}

// Enabled reports whether aggregation is on; used by the debug endpoint.
func (m *Manager) Enabled() bool { return m.cfg.Enabled }

// Config returns the active debounce configuration.
func (m *Manager) Config() Config { return m.cfg }
