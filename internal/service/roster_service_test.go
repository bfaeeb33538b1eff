package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackmate/attendance-api/internal/models"
	appErrors "github.com/trackmate/attendance-api/pkg/errors"
	"github.com/trackmate/attendance-api/pkg/spreadsheet"
)

type stubRosterStore struct {
	roster *models.Roster
	putErr error
}

func (s *stubRosterStore) GetRoster(_ context.Context, _ string) (*models.Roster, error) {
	if s.roster == nil {
		return nil, sql.ErrNoRows
	}
	return s.roster, nil
}

func (s *stubRosterStore) PutRoster(_ context.Context, _ string, roster *models.Roster) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.roster = roster
	return nil
}

func TestRosterUpload(t *testing.T) {
	store := &stubRosterStore{}
	svc := NewRosterService(store, nil, nil)
	session := models.NewSession("acct-1")

	roster, err := svc.Upload(context.Background(), session, &spreadsheet.Table{
		Headers: []string{"roll", "name", "email"},
		Rows: []map[string]string{
			{"roll": "12", "name": "Asha", "email": "a@example.com"},
			{"roll": "61", "name": "Dev"},
		},
	})
	require.NoError(t, err)

	require.Len(t, roster.Students, 2)
	assert.Equal(t, models.BatchA, roster.Students[0].Batch)
	assert.Equal(t, models.BatchD, roster.Students[1].Batch)
	assert.Same(t, roster, store.roster)
	assert.Same(t, roster, session.Roster)
}

func TestRosterUploadRejectsMissingColumns(t *testing.T) {
	svc := NewRosterService(&stubRosterStore{}, nil, nil)

	_, err := svc.Upload(context.Background(), models.NewSession("acct-1"), &spreadsheet.Table{
		Headers: []string{"Roll", "name"},
		Rows:    []map[string]string{{"Roll": "1", "name": "Asha"}},
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestRosterLookupNotFound(t *testing.T) {
	svc := NewRosterService(&stubRosterStore{}, nil, nil)

	_, err := svc.Roster(context.Background(), models.NewSession("acct-1"))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestRosterLookupPrefersSessionCopy(t *testing.T) {
	store := &stubRosterStore{}
	svc := NewRosterService(store, nil, nil)
	session := models.NewSession("acct-1")
	session.Roster = &models.Roster{Students: []models.Student{{Roll: 1, Name: "Asha", Batch: models.BatchA}}}

	roster, err := svc.Roster(context.Background(), session)
	require.NoError(t, err)
	assert.Same(t, session.Roster, roster)
}
