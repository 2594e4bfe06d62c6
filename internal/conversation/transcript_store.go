package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultTranscriptLimit = 20

type transcriptDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TranscriptStore is the append-only per-chat message log backed by the
// messages table.
type TranscriptStore struct {
	db     transcriptDB
	tracer trace.Tracer
}

func NewTranscriptStore(db transcriptDB) *TranscriptStore {
	if db == nil {
		return nil
	}
	return &TranscriptStore{
		db:     db,
		tracer: otel.Tracer("funnelbot.internal.conversation.transcript"),
	}
}

// Append stores one message at the end of the chat's transcript.
func (s *TranscriptStore) Append(ctx context.Context, chatID int64, role, content string) error {
	if s == nil || s.db == nil {
		return nil
	}
	if chatID == 0 {
		return errors.New("conversation: transcript chat id required")
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.append")
	defer span.End()

	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (id, chat_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, uuid.New(), chatID, role, content)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: append transcript message: %w", err)
	}
	return nil
}

// ListRecent returns the last limit messages in chronological order.
func (s *TranscriptStore) ListRecent(ctx context.Context, chatID int64, limit int) ([]ChatMessage, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if chatID == 0 {
		return nil, errors.New("conversation: transcript chat id required")
	}
	if limit <= 0 {
		limit = defaultTranscriptLimit
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.list")
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT role, content FROM (
			SELECT role, content, created_at
			FROM messages
			WHERE chat_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, chatID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: list transcript: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var msg ChatMessage
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: scan transcript message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: iterate transcript: %w", err)
	}
	return out, nil
}
