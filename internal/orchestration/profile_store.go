package orchestration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ProfileStore reads therapist personas and user cultural profiles from
// PostgreSQL. Both reads tolerate missing rows: the controller has sensible
// fallbacks for each.
type ProfileStore struct {
	db *sql.DB
}

// NewProfileStore creates a profile store. A nil db yields a nil store whose
// reads all report "not found", which keeps wiring simple in environments
// without Postgres.
func NewProfileStore(db *sql.DB) *ProfileStore {
	if db == nil {
		return nil
	}
	return &ProfileStore{db: db}
}

// GetTherapistPersona returns the persona for a therapist id, or nil when the
// therapist is unknown.
func (s *ProfileStore) GetTherapistPersona(ctx context.Context, therapistID string) (*TherapistPersona, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}

	var persona TherapistPersona
	err := s.db.QueryRowContext(ctx,
		`SELECT name, title, communication_style FROM therapist_personas WHERE therapist_id = $1`,
		therapistID,
	).Scan(&persona.Name, &persona.Title, &persona.CommunicationStyle)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("orchestration: failed to load therapist persona: %w", err)
	}
	return &persona, nil
}

// GetCulturalProfile returns the stored cultural profile for a user, or nil
// when none exists. Profiles are stored as a JSON document so upstream
// services can extend them without schema churn.
func (s *ProfileStore) GetCulturalProfile(ctx context.Context, userID string) (*CulturalContext, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT profile FROM cultural_profiles WHERE user_id = $1`,
		userID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("orchestration: failed to load cultural profile: %w", err)
	}

	var profile CulturalContext
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("orchestration: failed to decode cultural profile: %w", err)
	}
	return &profile, nil
}
