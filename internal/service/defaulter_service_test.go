package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackmate/attendance-api/internal/models"
	appErrors "github.com/trackmate/attendance-api/pkg/errors"
)

type stubDefaulterStore struct {
	ledgers   map[string]*models.Ledger
	snapshots map[string]*models.DefaulterSnapshot
	putErr    error
}

func newStubDefaulterStore() *stubDefaulterStore {
	return &stubDefaulterStore{
		ledgers:   map[string]*models.Ledger{},
		snapshots: map[string]*models.DefaulterSnapshot{},
	}
}

func (s *stubDefaulterStore) GetLedger(_ context.Context, _ string, kind models.TableKind, batchKey string) (*models.Ledger, error) {
	ledger, ok := s.ledgers[ledgerKey(kind, batchKey)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return ledger, nil
}

func (s *stubDefaulterStore) GetDefaulters(_ context.Context, _ string, snapshotKey string) (*models.DefaulterSnapshot, error) {
	snapshot, ok := s.snapshots[snapshotKey]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return snapshot, nil
}

func (s *stubDefaulterStore) PutDefaulters(_ context.Context, _ string, snapshotKey string, snapshot *models.DefaulterSnapshot) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.snapshots[snapshotKey] = snapshot
	return nil
}

func scoredClassLedger(t *testing.T) *models.Ledger {
	t.Helper()
	roster, err := models.BuildRoster(
		[]string{"roll", "name"},
		[]map[string]string{
			{"roll": "1", "name": "Asha"},
			{"roll": "2", "name": "Dev"},
		},
	)
	require.NoError(t, err)
	ledger := models.NewLedger(roster)
	// Roll 2 misses two out of four sessions: 50%.
	require.NoError(t, ledger.RecordClassColumn("2024-01-01_Class", models.ParseAbsentRolls("")))
	require.NoError(t, ledger.RecordClassColumn("2024-01-02_Class", models.ParseAbsentRolls("2")))
	require.NoError(t, ledger.RecordClassColumn("2024-01-03_Class", models.ParseAbsentRolls("2")))
	require.NoError(t, ledger.RecordClassColumn("2024-01-04_Class", models.ParseAbsentRolls("")))
	return ledger
}

func TestComputeDefaultersClass(t *testing.T) {
	store := newStubDefaulterStore()
	store.ledgers[ledgerKey(models.TableClass, "")] = scoredClassLedger(t)
	svc := NewDefaulterService(store, nil, nil, nil)

	result, err := svc.Compute(context.Background(), models.NewSession("acct-1"), ComputeDefaultersRequest{Kind: "Class"})
	require.NoError(t, err)

	require.Len(t, result.Scores, 2)
	assert.InDelta(t, 100.0, result.Scores[0].Percentage, 0.001)
	assert.InDelta(t, 50.0, result.Scores[1].Percentage, 0.001)

	require.Len(t, result.Snapshot.Rows, 1)
	assert.Equal(t, 2, result.Snapshot.Rows[0].Roll)
	assert.Equal(t, DefaultDefaulterThreshold, result.Snapshot.Threshold)
	assert.Equal(t, 4, result.Snapshot.Sessions)

	stored, ok := store.snapshots["class"]
	require.True(t, ok)
	assert.Equal(t, result.Snapshot.Rows, stored.Rows)
}

func TestComputeDefaultersCustomThreshold(t *testing.T) {
	store := newStubDefaulterStore()
	store.ledgers[ledgerKey(models.TableClass, "")] = scoredClassLedger(t)
	svc := NewDefaulterService(store, nil, nil, nil)

	result, err := svc.Compute(context.Background(), models.NewSession("acct-1"), ComputeDefaultersRequest{Kind: "Class", Threshold: 40})
	require.NoError(t, err)
	assert.Empty(t, result.Snapshot.Rows)
}

func TestComputeDefaultersPracticalUsesBatchLedger(t *testing.T) {
	store := newStubDefaulterStore()
	roster, err := models.BuildRoster(
		[]string{"roll", "name"},
		[]map[string]string{{"roll": "3", "name": "Meera"}},
	)
	require.NoError(t, err)
	ledger := models.NewLedger(roster)
	require.NoError(t, ledger.RecordPracticalColumn("2024-01-05_Practical", map[int]struct{}{3: {}}, models.ParseAbsentRolls("3")))
	store.ledgers[ledgerKey(models.TableBatch, "A")] = ledger
	svc := NewDefaulterService(store, nil, nil, nil)

	result, err := svc.Compute(context.Background(), models.NewSession("acct-1"), ComputeDefaultersRequest{Kind: "Practical", Batch: "A"})
	require.NoError(t, err)
	require.Len(t, result.Snapshot.Rows, 1)
	assert.InDelta(t, 0.0, result.Snapshot.Rows[0].Percentage, 0.001)

	_, ok := store.snapshots["practical_A"]
	assert.True(t, ok)
}

func TestComputeDefaultersPracticalRequiresBatch(t *testing.T) {
	svc := NewDefaulterService(newStubDefaulterStore(), nil, nil, nil)
	_, err := svc.Compute(context.Background(), models.NewSession("acct-1"), ComputeDefaultersRequest{Kind: "Practical"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestComputeDefaultersNoLedger(t *testing.T) {
	svc := NewDefaulterService(newStubDefaulterStore(), nil, nil, nil)
	_, err := svc.Compute(context.Background(), models.NewSession("acct-1"), ComputeDefaultersRequest{Kind: "Class"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInsufficientData))
}

func TestComputeDefaultersNoSessionsYet(t *testing.T) {
	store := newStubDefaulterStore()
	roster, err := models.BuildRoster(
		[]string{"roll", "name"},
		[]map[string]string{{"roll": "1", "name": "Asha"}},
	)
	require.NoError(t, err)
	store.ledgers[ledgerKey(models.TableClass, "")] = models.NewLedger(roster)
	svc := NewDefaulterService(store, nil, nil, nil)

	_, err = svc.Compute(context.Background(), models.NewSession("acct-1"), ComputeDefaultersRequest{Kind: "Class"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInsufficientData))
}

func TestCurrentSnapshotNotFound(t *testing.T) {
	svc := NewDefaulterService(newStubDefaulterStore(), nil, nil, nil)
	_, err := svc.Current(context.Background(), models.NewSession("acct-1"), models.SessionClass, "")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}
