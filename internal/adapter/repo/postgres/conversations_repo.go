package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/charlalabs/charla-gateway/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repo for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ConversationRepo persists and loads conversations using a minimal pgx pool.
// It implements domain.ConversationRepository. Save is a last-writer-wins
// upsert; callers serialize writers per user id.
type ConversationRepo struct{ Pool PgxPool }

// NewConversationRepo constructs a ConversationRepo with the given pool.
func NewConversationRepo(p PgxPool) *ConversationRepo { return &ConversationRepo{Pool: p} }

// EnsureSchema creates the conversations table when missing. Idempotent.
func (r *ConversationRepo) EnsureSchema(ctx domain.Context) error {
	q := `CREATE TABLE IF NOT EXISTS conversations (
		user_id TEXT PRIMARY KEY,
		history JSONB NOT NULL DEFAULT '[]',
		emoji_last_message BOOLEAN NOT NULL DEFAULT FALSE,
		progress JSONB NOT NULL DEFAULT '{}',
		memories JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := r.Pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("op=conversation.ensure_schema: %w", err)
	}
	return nil
}

// Load returns the conversation for userID, or a fresh default state when no
// row exists. A missing row is never an error.
func (r *ConversationRepo) Load(ctx domain.Context, userID string) (domain.Conversation, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Load")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "conversations"),
	)
	q := `SELECT user_id, history, emoji_last_message, progress, memories, created_at FROM conversations WHERE user_id=$1`
	row := r.Pool.QueryRow(ctx, q, userID)
	var (
		conv        domain.Conversation
		historyRaw  []byte
		progressRaw []byte
		memoriesRaw []byte
	)
	err := row.Scan(&conv.UserID, &historyRaw, &conv.EmojiLastMessage, &progressRaw, &memoriesRaw, &conv.CreatedAt)
	if err == pgx.ErrNoRows {
		return domain.NewConversation(userID), nil
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("op=conversation.load: %w", err)
	}
	if err := json.Unmarshal(historyRaw, &conv.History); err != nil {
		return domain.Conversation{}, fmt.Errorf("op=conversation.load: history decode: %w", err)
	}
	if err := json.Unmarshal(progressRaw, &conv.Progress); err != nil {
		return domain.Conversation{}, fmt.Errorf("op=conversation.load: progress decode: %w", err)
	}
	if err := json.Unmarshal(memoriesRaw, &conv.Memories); err != nil {
		return domain.Conversation{}, fmt.Errorf("op=conversation.load: memories decode: %w", err)
	}
	return conv, nil
}

// Save upserts the conversation row for conv.UserID.
func (r *ConversationRepo) Save(ctx domain.Context, conv domain.Conversation) error {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Save")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "conversations"),
	)
	historyRaw, err := json.Marshal(conv.History)
	if err != nil {
		return fmt.Errorf("op=conversation.save: history encode: %w", err)
	}
	progressRaw, err := json.Marshal(conv.Progress)
	if err != nil {
		return fmt.Errorf("op=conversation.save: progress encode: %w", err)
	}
	memoriesRaw, err := json.Marshal(conv.Memories)
	if err != nil {
		return fmt.Errorf("op=conversation.save: memories encode: %w", err)
	}
	createdAt := conv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	q := `INSERT INTO conversations (user_id, history, emoji_last_message, progress, memories, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id) DO UPDATE SET
			history = EXCLUDED.history,
			emoji_last_message = EXCLUDED.emoji_last_message,
			progress = EXCLUDED.progress,
			memories = EXCLUDED.memories,
			updated_at = EXCLUDED.updated_at`
	_, err = r.Pool.Exec(ctx, q, conv.UserID, historyRaw, conv.EmojiLastMessage, progressRaw, memoriesRaw, createdAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=conversation.save: %w", err)
	}
	return nil
}
