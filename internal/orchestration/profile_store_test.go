package orchestration

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileStoreGetTherapistPersona(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT name, title, communication_style FROM therapist_personas").
		WithArgs("th-1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "title", "communication_style"}).
			AddRow("Dr. Chen", "Clinical Psychologist", "calm and methodical"))

	store := NewProfileStore(db)
	persona, err := store.GetTherapistPersona(context.Background(), "th-1")
	require.NoError(t, err)
	require.NotNil(t, persona)
	assert.Equal(t, "Dr. Chen", persona.Name)
	assert.Equal(t, "Clinical Psychologist", persona.Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileStoreGetTherapistPersonaMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT name, title, communication_style FROM therapist_personas").
		WithArgs("unknown").
		WillReturnRows(sqlmock.NewRows([]string{"name", "title", "communication_style"}))

	store := NewProfileStore(db)
	persona, err := store.GetTherapistPersona(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, persona)
}

func TestProfileStoreGetCulturalProfile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT profile FROM cultural_profiles").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"profile"}).
			AddRow([]byte(`{"primaryLanguage":"es","familyOriented":true}`)))

	store := NewProfileStore(db)
	profile, err := store.GetCulturalProfile(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "es", profile.PrimaryLanguage)
	assert.True(t, profile.FamilyOriented)
	assert.False(t, profile.ReligiousConsiderations)
}

func TestProfileStoreGetCulturalProfileMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT profile FROM cultural_profiles").
		WithArgs("user-2").
		WillReturnRows(sqlmock.NewRows([]string{"profile"}))

	store := NewProfileStore(db)
	profile, err := store.GetCulturalProfile(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestProfileStoreGetCulturalProfileBadJSON(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT profile FROM cultural_profiles").
		WithArgs("user-3").
		WillReturnRows(sqlmock.NewRows([]string{"profile"}).AddRow([]byte(`{not json`)))

	store := NewProfileStore(db)
	_, err = store.GetCulturalProfile(context.Background(), "user-3")
	assert.Error(t, err)
}

func TestProfileStoreQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT name, title, communication_style FROM therapist_personas").
		WillReturnError(errors.New("connection reset"))

	store := NewProfileStore(db)
	_, err = store.GetTherapistPersona(context.Background(), "th-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestProfileStoreNilDB(t *testing.T) {
	store := NewProfileStore(nil)
	require.Nil(t, store)

	persona, err := store.GetTherapistPersona(context.Background(), "th-1")
	assert.NoError(t, err)
	assert.Nil(t, persona)

	profile, err := store.GetCulturalProfile(context.Background(), "user-1")
	assert.NoError(t, err)
	assert.Nil(t, profile)
}
