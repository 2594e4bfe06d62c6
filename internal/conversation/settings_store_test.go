package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"

	"github.com/leadline/funnelbot/pkg/logging"
)

func TestSettingsGetCachesValue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	mock.ExpectQuery("SELECT value FROM settings").
		WithArgs(SettingSystemPrompt).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("Ты консультант по недвижимости."))

	store := NewSettingsStore(mock, redisClient, time.Minute, logging.Default())
	ctx := context.Background()

	if got := store.SystemPrompt(ctx); got != "Ты консультант по недвижимости." {
		t.Errorf("SystemPrompt = %q", got)
	}
	// Second read is served from the cache; the mock has no second query.
	if got := store.SystemPrompt(ctx); got != "Ты консультант по недвижимости." {
		t.Errorf("cached SystemPrompt = %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSettingsFailOpenDefaults(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT value FROM settings").
			WillReturnError(errors.New("connection refused"))
	}

	store := NewSettingsStore(mock, nil, time.Minute, logging.Default())
	ctx := context.Background()

	if got := store.SystemPrompt(ctx); got != DefaultSystemPrompt {
		t.Errorf("SystemPrompt = %q, want default", got)
	}
	if got := store.CollectContact(ctx, true); !got {
		t.Error("CollectContact should fall back to true")
	}
	if got := store.OperatorChatID(ctx, -1001); got != -1001 {
		t.Errorf("OperatorChatID = %d, want fallback", got)
	}
}

func TestSettingsTypedParsing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT value FROM settings").
		WithArgs(SettingCollectContact).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("false"))
	mock.ExpectQuery("SELECT value FROM settings").
		WithArgs(SettingOperatorChatID).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("-100200300"))

	store := NewSettingsStore(mock, nil, time.Minute, logging.Default())
	ctx := context.Background()

	if store.CollectContact(ctx, true) {
		t.Error("CollectContact should parse false")
	}
	if got := store.OperatorChatID(ctx, 0); got != -100200300 {
		t.Errorf("OperatorChatID = %d", got)
	}
}
