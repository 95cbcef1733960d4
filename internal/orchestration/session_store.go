package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const sessionTTL = 24 * time.Hour

// SessionStore persists per-session status and rolling history in Redis.
// All cross-request state lives here; the pipeline itself is stateless.
type SessionStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

func NewSessionStore(rdb *redis.Client, tracer trace.Tracer) *SessionStore {
	if rdb == nil {
		panic("orchestration: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("therapy.internal.orchestration.session")
	}
	return &SessionStore{
		redis:  rdb,
		tracer: tracer,
	}
}

// LoadStatus returns the stored session status, or nil when the session has
// no persisted state yet. A missing record is not an error: the controller
// falls back to neutral defaults.
func (s *SessionStore) LoadStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	ctx, span := s.tracer.Start(ctx, "session.load_status")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionStatusKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("orchestration: failed to load session status: %w", err)
	}

	var status SessionStatus
	if err := json.Unmarshal(data, &status); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("orchestration: failed to decode session status: %w", err)
	}
	return &status, nil
}

// SaveStatus persists the session status with the rolling TTL.
func (s *SessionStore) SaveStatus(ctx context.Context, sessionID string, status SessionStatus) error {
	ctx, span := s.tracer.Start(ctx, "session.save_status")
	defer span.End()

	data, err := json.Marshal(status)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("orchestration: failed to marshal session status: %w", err)
	}
	if err := s.redis.Set(ctx, sessionStatusKey(sessionID), data, sessionTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("orchestration: failed to persist session status: %w", err)
	}
	return nil
}

// LoadHistory returns the stored session history, oldest first. Missing
// history yields an empty slice.
func (s *SessionStore) LoadHistory(ctx context.Context, sessionID string) ([]Turn, error) {
	ctx, span := s.tracer.Start(ctx, "session.load_history")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionHistoryKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("orchestration: failed to load session history: %w", err)
	}

	var history []Turn
	if err := json.Unmarshal(data, &history); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("orchestration: failed to decode session history: %w", err)
	}
	return history, nil
}

// SaveHistory replaces the stored session history.
func (s *SessionStore) SaveHistory(ctx context.Context, sessionID string, history []Turn) error {
	ctx, span := s.tracer.Start(ctx, "session.save_history")
	defer span.End()

	data, err := json.Marshal(history)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("orchestration: failed to marshal session history: %w", err)
	}
	if err := s.redis.Set(ctx, sessionHistoryKey(sessionID), data, sessionTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("orchestration: failed to persist session history: %w", err)
	}
	return nil
}

func sessionStatusKey(sessionID string) string {
	return fmt.Sprintf("therapy:session_status:%s", sessionID)
}

func sessionHistoryKey(sessionID string) string {
	return fmt.Sprintf("therapy:session_history:%s", sessionID)
}
