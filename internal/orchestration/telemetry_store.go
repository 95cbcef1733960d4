package orchestration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// TelemetryStore persists decision records, session quality metrics, and
// conversation memory to PostgreSQL. Every write here is best-effort from the
// pipeline's perspective: the dispatcher logs failures without failing the
// user-facing response.
type TelemetryStore struct {
	db *sql.DB
}

// NewTelemetryStore creates a telemetry store.
func NewTelemetryStore(db *sql.DB) *TelemetryStore {
	if db == nil {
		return nil
	}
	return &TelemetryStore{db: db}
}

// InsertDecision appends one decision record. Append-only; rows are never
// updated or deleted by this core.
func (s *TelemetryStore) InsertDecision(ctx context.Context, rec *DecisionRecord) error {
	if s == nil || s.db == nil || rec == nil {
		return nil
	}

	adaptations, err := json.Marshal(rec.CulturalAdaptations)
	if err != nil {
		return fmt.Errorf("orchestration: failed to marshal cultural adaptations: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decision_records (
			id, session_id, user_id, phase, model, provider, technique,
			approach, rationale, predicted_effectiveness, cultural_adaptations,
			crisis_level, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.SessionID, rec.UserID, string(rec.Phase), rec.Model,
		string(rec.Provider), string(rec.Technique), string(rec.Approach),
		rec.Rationale, rec.PredictedEffectiveness, adaptations,
		string(rec.CrisisLevel), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("orchestration: failed to insert decision record: %w", err)
	}
	return nil
}

// GetDecision reads one decision record back by id.
func (s *TelemetryStore) GetDecision(ctx context.Context, id string) (*DecisionRecord, error) {
	if s == nil || s.db == nil {
		return nil, sql.ErrNoRows
	}

	var rec DecisionRecord
	var phase, provider, technique, approach, crisisLevel string
	var adaptations []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, user_id, phase, model, provider, technique,
			approach, rationale, predicted_effectiveness, cultural_adaptations,
			crisis_level, created_at
		FROM decision_records WHERE id = $1`,
		id,
	).Scan(
		&rec.ID, &rec.SessionID, &rec.UserID, &phase, &rec.Model, &provider,
		&technique, &approach, &rec.Rationale, &rec.PredictedEffectiveness,
		&adaptations, &crisisLevel, &rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("orchestration: failed to load decision record: %w", err)
	}

	rec.Phase = SessionPhase(phase)
	rec.Provider = Provider(provider)
	rec.Technique = Technique(technique)
	rec.Approach = Approach(approach)
	rec.CrisisLevel = CrisisLevel(crisisLevel)
	if len(adaptations) > 0 {
		if err := json.Unmarshal(adaptations, &rec.CulturalAdaptations); err != nil {
			return nil, fmt.Errorf("orchestration: failed to decode cultural adaptations: %w", err)
		}
	}
	return &rec, nil
}

// UpsertQualityMetrics refreshes the per-session quality row: a per-technique
// effectiveness score plus the last-intervention marker. Last-writer-wins.
func (s *TelemetryStore) UpsertQualityMetrics(ctx context.Context, update *QualityMetricsUpdate) error {
	if s == nil || s.db == nil || update == nil {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_quality_metrics (
			session_id, technique, effectiveness, last_intervention_at, updated_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			technique = EXCLUDED.technique,
			effectiveness = EXCLUDED.effectiveness,
			last_intervention_at = EXCLUDED.last_intervention_at,
			updated_at = EXCLUDED.updated_at`,
		update.SessionID, string(update.Technique), update.Effectiveness,
		update.LastInterventionAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("orchestration: failed to upsert quality metrics: %w", err)
	}
	return nil
}

// InsertMemory appends one conversation-memory entry.
func (s *TelemetryStore) InsertMemory(ctx context.Context, entry *MemoryEntry) error {
	if s == nil || s.db == nil || entry == nil {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_memory (
			id, session_id, user_id, phase, technique, content, importance, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.SessionID, entry.UserID, string(entry.Phase),
		string(entry.Technique), entry.Content, entry.Importance, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("orchestration: failed to insert memory entry: %w", err)
	}
	return nil
}
