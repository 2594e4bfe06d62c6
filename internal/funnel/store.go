package funnel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/leadline/funnelbot/pkg/logging"
)

const cacheKey = "funnel:questions"

type db interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store loads the funnel definition from Postgres with a read-through Redis
// cache. Load never returns an error: a funnel that cannot be retrieved
// degrades to an empty funnel and the conversation continues unqualified.
type Store struct {
	db     db
	redis  *redis.Client
	ttl    time.Duration
	sf     singleflight.Group
	tracer trace.Tracer
	logger *logging.Logger
}

func NewStore(db db, redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Store{
		db:     db,
		redis:  redisClient,
		ttl:    ttl,
		tracer: otel.Tracer("funnelbot.internal.funnel"),
		logger: logger,
	}
}

// Load returns the required questions ordered by order index. Any retrieval
// failure yields an empty funnel, logged, never propagated.
func (s *Store) Load(ctx context.Context) []Question {
	if s == nil || s.db == nil {
		return nil
	}
	questions, err := s.load(ctx)
	if err != nil {
		s.logger.Error("funnel: load failed, continuing without funnel", "error", err)
		return nil
	}
	return questions
}

func (s *Store) load(ctx context.Context) ([]Question, error) {
	ctx, span := s.tracer.Start(ctx, "funnel.load")
	defer span.End()

	if s.redis != nil {
		data, err := s.redis.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var questions []Question
			if jsonErr := json.Unmarshal(data, &questions); jsonErr == nil {
				return questions, nil
			}
			// Corrupt cache entry: fall through to the database.
		}
	}

	v, err, _ := s.sf.Do(cacheKey, func() (any, error) {
		questions, err := s.query(ctx)
		if err != nil {
			return nil, err
		}
		s.cache(ctx, questions)
		return questions, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return v.([]Question), nil
}

func (s *Store) query(ctx context.Context) ([]Question, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, question, COALESCE(agent_task, ''), is_required, order_index
		FROM funnel_questions
		WHERE is_required
		ORDER BY order_index ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("funnel: select questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.Question, &q.AgentTask, &q.IsRequired, &q.OrderIndex); err != nil {
			return nil, fmt.Errorf("funnel: scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("funnel: iterate questions: %w", err)
	}
	return questions, nil
}

func (s *Store) cache(ctx context.Context, questions []Question) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(questions)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, cacheKey, data, s.ttl).Err(); err != nil {
		s.logger.Warn("funnel: cache write failed", "error", err)
	}
}

// Invalidate drops the cached funnel so the next Load hits the database.
func (s *Store) Invalidate(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, cacheKey).Err(); err != nil {
		s.logger.Warn("funnel: cache invalidate failed", "error", err)
	}
}
