// Package domain holds the core entities, error taxonomy and ports of the
// chat gateway. Adapters implement the ports; usecases depend only on this
// package.
package domain

import (
	"context"
	"errors"
	"time"
)

// Context aliases context.Context to keep port signatures compact.
type Context = context.Context

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrUnlicensed      = errors.New("unlicensed")
	ErrClientRejected  = errors.New("client rejected")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrModelNotFound   = errors.New("model not found")
	ErrInternal        = errors.New("internal error")
)

// Role tags a transcript entry.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAgent Role = "AGENT"
)

// Message is one transcript entry.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Progress tracks the scripted-sequence position for one user.
type Progress struct {
	ScriptIndex int  `json:"script_index"`
	ScriptDone  bool `json:"script_done"`
}

// Conversation is the per-user state mutated under that user's lock.
// History is append-only and ordered; it is the single source of truth for
// the context passed to the generative step.
type Conversation struct {
	UserID           string    `json:"user_id"`
	History          []Message `json:"history"`
	EmojiLastMessage bool      `json:"emoji_last_message"`
	Progress         Progress  `json:"progress"`
	Memories         []string  `json:"memories"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewConversation returns the default state for a previously unseen user.
func NewConversation(userID string) Conversation {
	return Conversation{UserID: userID, CreatedAt: time.Now().UTC()}
}

// Append adds an exchange to the history, trimming the oldest entries when
// the cap is exceeded. A cap <= 0 disables trimming.
func (c *Conversation) Append(cap int, msgs ...Message) {
	c.History = append(c.History, msgs...)
	if cap > 0 && len(c.History) > cap {
		c.History = c.History[len(c.History)-cap:]
	}
}

// LastAgentText returns the most recent agent line, or "" when none exists.
func (c *Conversation) LastAgentText() string {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Role == RoleAgent {
			return c.History[i].Text
		}
	}
	return ""
}

// UserTurns counts the user entries in the history.
func (c *Conversation) UserTurns() int {
	n := 0
	for _, m := range c.History {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// Remember appends a free-text fact, keeping at most cap entries (FIFO).
func (c *Conversation) Remember(cap int, fact string) {
	c.Memories = append(c.Memories, fact)
	if cap > 0 && len(c.Memories) > cap {
		c.Memories = c.Memories[len(c.Memories)-cap:]
	}
}

// ConversationRepository persists per-user conversation state.
//
// Load returns a fresh default state when no row exists; a missing row is
// never an error for the caller. Save is a last-writer-wins upsert; callers
// serialize writers per user id upstream, so the store needs no
// compare-and-swap semantics.
type ConversationRepository interface {
	Load(ctx Context, userID string) (Conversation, error)
	Save(ctx Context, conv Conversation) error
}

// ChatClient produces a reply from a persona preamble and transcript.
type ChatClient interface {
	Chat(ctx Context, preamble string, history []Message, message string) (string, error)
}

// ChatEvent is one completed exchange, published for audit/analytics.
type ChatEvent struct {
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Reply     string    `json:"reply"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// EventPublisher records completed exchanges. Implementations must never
// fail the request path: publish errors are logged and dropped.
type EventPublisher interface {
	PublishChatEvent(ctx Context, ev ChatEvent) error
}

// Reply sources reported in ChatEvent.Source.
const (
	SourceTrigger   = "trigger"
	SourceScripted  = "scripted"
	SourceGenerated = "generated"
	SourceDegraded  = "degraded"
)
