package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type db interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	db db
}

// NewPostgresRepository initializes a repo backed by pgxpool (or a mock).
func NewPostgresRepository(db db) *PostgresRepository {
	if db == nil {
		panic("leads: database handle required")
	}
	return &PostgresRepository{db: db}
}

// Get fetches the record for a chat.
func (r *PostgresRepository) Get(ctx context.Context, chatID int64) (*Lead, error) {
	query := `
		SELECT chat_id, username, tg_handle, phone, collected_data, stage, created_at, updated_at
		FROM leads
		WHERE chat_id = $1
	`
	row := r.db.QueryRow(ctx, query, chatID)

	var lead Lead
	var collected []byte
	if err := row.Scan(
		&lead.ChatID,
		&lead.Username,
		&lead.TGHandle,
		&lead.Phone,
		&collected,
		&lead.Stage,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}

	lead.CollectedData = map[string]string{}
	if len(collected) > 0 {
		if err := json.Unmarshal(collected, &lead.CollectedData); err != nil {
			return nil, fmt.Errorf("leads: decode collected_data: %w", err)
		}
	}
	return &lead, nil
}

// Upsert writes the full record keyed by chat_id.
func (r *PostgresRepository) Upsert(ctx context.Context, lead *Lead) error {
	if lead == nil || lead.ChatID == 0 {
		return ErrMissingChatID
	}

	collected, err := json.Marshal(lead.CollectedData)
	if err != nil {
		return fmt.Errorf("leads: encode collected_data: %w", err)
	}

	query := `
		INSERT INTO leads (chat_id, username, tg_handle, phone, collected_data, stage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (chat_id) DO UPDATE SET
			username = EXCLUDED.username,
			tg_handle = EXCLUDED.tg_handle,
			phone = EXCLUDED.phone,
			collected_data = EXCLUDED.collected_data,
			stage = EXCLUDED.stage,
			updated_at = now()
	`
	if _, err := r.db.Exec(ctx, query,
		lead.ChatID,
		lead.Username,
		lead.TGHandle,
		lead.Phone,
		collected,
		string(lead.Stage),
	); err != nil {
		return fmt.Errorf("leads: upsert failed: %w", err)
	}
	return nil
}
