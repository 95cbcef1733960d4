package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetryStoreInsertDecision(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rec := &DecisionRecord{
		ID:                     uuid.NewString(),
		SessionID:              "sess-1",
		UserID:                 "user-1",
		Phase:                  PhaseIntervention,
		Model:                  "gemini-2.5-flash",
		Provider:               ProviderGemini,
		Technique:              TechniqueCognitiveRestructuring,
		Approach:               ApproachAnalytical,
		Rationale:              "intervention phase defaults to examining thought patterns",
		PredictedEffectiveness: 0.75,
		CulturalAdaptations:    map[string]bool{AdaptTranslationNeeded: true},
		CrisisLevel:            CrisisNone,
		CreatedAt:              time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO decision_records").
		WithArgs(rec.ID, rec.SessionID, rec.UserID, string(rec.Phase), rec.Model,
			string(rec.Provider), string(rec.Technique), string(rec.Approach),
			rec.Rationale, rec.PredictedEffectiveness, sqlmock.AnyArg(),
			string(rec.CrisisLevel), rec.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewTelemetryStore(db)
	require.NoError(t, store.InsertDecision(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTelemetryStoreGetDecision(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.NewString()
	created := time.Now().UTC().Truncate(time.Microsecond)
	mock.ExpectQuery("SELECT (.+) FROM decision_records").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "session_id", "user_id", "phase", "model", "provider",
			"technique", "approach", "rationale", "predicted_effectiveness",
			"cultural_adaptations", "crisis_level", "created_at",
		}).AddRow(
			id, "sess-1", "user-1", "opening", "gemini-2.5-flash", "gemini",
			"rapport_building", "welcoming", "why", 0.75,
			[]byte(`{"translation_needed":true}`), "none", created,
		))

	store := NewTelemetryStore(db)
	rec, err := store.GetDecision(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, PhaseOpening, rec.Phase)
	assert.Equal(t, ProviderGemini, rec.Provider)
	assert.Equal(t, TechniqueRapportBuilding, rec.Technique)
	assert.True(t, rec.CulturalAdaptations[AdaptTranslationNeeded])
	assert.Equal(t, created, rec.CreatedAt)
}

func TestTelemetryStoreUpsertQualityMetrics(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	update := &QualityMetricsUpdate{
		SessionID:          "sess-1",
		Technique:          TechniqueBreathingExercises,
		Effectiveness:      0.75,
		LastInterventionAt: time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO session_quality_metrics").
		WithArgs(update.SessionID, string(update.Technique), update.Effectiveness,
			update.LastInterventionAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewTelemetryStore(db)
	require.NoError(t, store.UpsertQualityMetrics(context.Background(), update))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTelemetryStoreInsertMemory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	entry := &MemoryEntry{
		ID:         uuid.NewString(),
		SessionID:  "sess-1",
		UserID:     "user-1",
		Phase:      PhaseAssessment,
		Technique:  TechniqueReflectiveQuestioning,
		Content:    "a long message worth remembering about work stress",
		Importance: 0.6,
		CreatedAt:  time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO conversation_memory").
		WithArgs(entry.ID, entry.SessionID, entry.UserID, string(entry.Phase),
			string(entry.Technique), entry.Content, entry.Importance, entry.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewTelemetryStore(db)
	require.NoError(t, store.InsertMemory(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTelemetryStoreInsertDecisionError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO decision_records").
		WillReturnError(errors.New("deadlock detected"))

	store := NewTelemetryStore(db)
	err = store.InsertDecision(context.Background(), &DecisionRecord{ID: uuid.NewString()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
}

func TestTelemetryStoreNilReceivers(t *testing.T) {
	store := NewTelemetryStore(nil)
	require.Nil(t, store)

	ctx := context.Background()
	assert.NoError(t, store.InsertDecision(ctx, &DecisionRecord{}))
	assert.NoError(t, store.UpsertQualityMetrics(ctx, &QualityMetricsUpdate{}))
	assert.NoError(t, store.InsertMemory(ctx, &MemoryEntry{}))
}
