// Package usecase contains the application services orchestrating domain
// logic between adapters.
package usecase

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/charlalabs/charla-gateway/internal/adapter/observability"
	"github.com/charlalabs/charla-gateway/internal/config"
	"github.com/charlalabs/charla-gateway/internal/domain"
	"github.com/charlalabs/charla-gateway/internal/service/reply"
	"github.com/charlalabs/charla-gateway/pkg/syncx"
	"github.com/charlalabs/charla-gateway/pkg/textx"
)

// ChatService handles one inbound message end to end: per-user lock, load,
// reply pipeline, history append, save. Concurrent messages for the same
// user are strictly serialized; different users proceed in parallel.
type ChatService struct {
	cfg      config.Config
	rules    config.Rules
	repo     domain.ConversationRepository
	pipeline *reply.Pipeline
	locks    *syncx.KeyedMutex
	events   domain.EventPublisher // optional
}

// NewChatService wires the service. events may be nil.
func NewChatService(cfg config.Config, rules config.Rules, repo domain.ConversationRepository, pipeline *reply.Pipeline, events domain.EventPublisher) *ChatService {
	return &ChatService{
		cfg:      cfg,
		rules:    rules,
		repo:     repo,
		pipeline: pipeline,
		locks:    syncx.NewKeyedMutex(),
		events:   events,
	}
}

// Handle produces the reply for one user message.
//
// Save failures are logged and counted but the reply is still returned:
// availability wins over durability for a chat exchange that already
// happened. Load failures abort the request instead, since replying without
// context would corrupt the transcript.
func (s *ChatService) Handle(ctx domain.Context, userID, message string) (string, error) {
	tracer := otel.Tracer("usecase.chat")
	ctx, span := tracer.Start(ctx, "chat.Handle")
	defer span.End()

	userID = strings.TrimSpace(userID)
	message = textx.SanitizeText(message)
	if userID == "" || message == "" {
		return "", fmt.Errorf("op=chat.handle: user_id and message required: %w", domain.ErrInvalidArgument)
	}
	if s.isBlocked(userID) {
		return "", fmt.Errorf("op=chat.handle: user %q blocked: %w", userID, domain.ErrForbidden)
	}

	release := s.locks.Acquire(userID)
	defer release()

	conv, err := s.repo.Load(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("op=chat.handle: %w", err)
	}

	if fact, ok := s.pipeline.ExtractMemory(message); ok {
		conv.Remember(s.cfg.MemoriesMax, fact)
	}

	out := s.pipeline.Respond(ctx, &conv, message)

	conv.EmojiLastMessage = out.EmojiLast
	conv.Progress = out.Progress
	conv.Append(s.cfg.HistoryMaxEntries,
		domain.Message{Role: domain.RoleUser, Text: message},
		domain.Message{Role: domain.RoleAgent, Text: out.Text},
	)

	if err := s.repo.Save(ctx, conv); err != nil {
		slog.Error("conversation save failed, returning reply anyway",
			slog.String("user_id", userID), slog.Any("error", err))
		observability.DroppedSavesTotal.Inc()
	}

	s.publish(ctx, userID, message, out)
	return out.Text, nil
}

func (s *ChatService) isBlocked(userID string) bool {
	id := strings.ToLower(userID)
	for _, blocked := range s.rules.BlockedUsers {
		if id == strings.ToLower(blocked) {
			return true
		}
	}
	return false
}

func (s *ChatService) publish(ctx domain.Context, userID, message string, out reply.Outcome) {
	if s.events == nil {
		return
	}
	ev := domain.ChatEvent{
		EventID:   uuid.New().String(),
		UserID:    userID,
		Message:   message,
		Reply:     out.Text,
		Source:    out.Source,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.events.PublishChatEvent(ctx, ev); err != nil {
		slog.Error("chat event publish failed", slog.String("user_id", userID), slog.Any("error", err))
	}
}
