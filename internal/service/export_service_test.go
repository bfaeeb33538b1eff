package service

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackmate/attendance-api/internal/models"
	appErrors "github.com/trackmate/attendance-api/pkg/errors"
	"github.com/trackmate/attendance-api/pkg/jobs"
	"github.com/trackmate/attendance-api/pkg/storage"
)

type stubExportStore struct {
	ledgers   map[string]*models.Ledger
	roster    *models.Roster
	snapshots map[string]*models.DefaulterSnapshot
}

func (s *stubExportStore) GetLedger(_ context.Context, _ string, kind models.TableKind, batchKey string) (*models.Ledger, error) {
	ledger, ok := s.ledgers[ledgerKey(kind, batchKey)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return ledger, nil
}

func (s *stubExportStore) GetRoster(_ context.Context, _ string) (*models.Roster, error) {
	if s.roster == nil {
		return nil, sql.ErrNoRows
	}
	return s.roster, nil
}

func (s *stubExportStore) GetDefaulters(_ context.Context, _ string, snapshotKey string) (*models.DefaulterSnapshot, error) {
	snapshot, ok := s.snapshots[snapshotKey]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return snapshot, nil
}

type recordingDispatcher struct {
	enqueued []jobs.Job
}

func (d *recordingDispatcher) Enqueue(job jobs.Job) error {
	d.enqueued = append(d.enqueued, job)
	return nil
}

func newExportFixture(t *testing.T) (*ExportService, *stubExportStore, *recordingDispatcher) {
	t.Helper()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)

	store := &stubExportStore{
		ledgers:   map[string]*models.Ledger{},
		snapshots: map[string]*models.DefaulterSnapshot{},
	}
	svc := NewExportService(store, files, signer, ExportConfig{APIPrefix: "/api/v1"}, nil, nil)
	dispatcher := &recordingDispatcher{}
	svc.SetDispatcher(dispatcher)
	return svc, store, dispatcher
}

func TestExportLifecycle(t *testing.T) {
	svc, store, dispatcher := newExportFixture(t)
	store.ledgers[ledgerKey(models.TableClass, "")] = scoredClassLedger(t)
	session := models.NewSession("acct-1")

	job, err := svc.Create(context.Background(), session, ExportRequest{Table: "class", Format: "csv"})
	require.NoError(t, err)
	assert.Equal(t, ExportStatusQueued, job.Status)
	require.Len(t, dispatcher.enqueued, 1)

	require.NoError(t, svc.Handle(context.Background(), dispatcher.enqueued[0]))

	finished, err := svc.Status(session, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ExportStatusFinished, finished.Status)
	require.NotEmpty(t, finished.ResultURL)
	assert.True(t, strings.HasPrefix(finished.ResultURL, "/api/v1/exports/download/"))

	parts := strings.Split(finished.ResultURL, "/")
	download, err := svc.ResolveDownload(parts[len(parts)-1])
	require.NoError(t, err)
	defer download.File.Close()

	content, err := io.ReadAll(download.File)
	require.NoError(t, err)
	text := string(content)
	assert.True(t, strings.HasPrefix(text, "roll,name,2024-01-01_Class"))
	assert.Contains(t, text, "2,Dev")
	assert.Equal(t, ExportFormatCSV, download.Format)
}

func TestExportDefaulterSnapshotXLSX(t *testing.T) {
	svc, store, dispatcher := newExportFixture(t)
	store.snapshots["practical_B"] = &models.DefaulterSnapshot{
		Type:      models.SessionPractical,
		Batch:     models.BatchB,
		Threshold: 80,
		Sessions:  3,
		Rows:      []models.DefaulterRow{{Roll: 25, Name: "Meera", Percentage: 33.33}},
	}
	session := models.NewSession("acct-1")

	job, err := svc.Create(context.Background(), session, ExportRequest{
		Table: "defaulters", Kind: "Practical", Batch: "B", Format: "xlsx",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Handle(context.Background(), dispatcher.enqueued[0]))

	finished, err := svc.Status(session, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ExportStatusFinished, finished.Status)
}

func TestExportStatusEnforcesOwnership(t *testing.T) {
	svc, store, _ := newExportFixture(t)
	store.ledgers[ledgerKey(models.TableClass, "")] = scoredClassLedger(t)

	job, err := svc.Create(context.Background(), models.NewSession("acct-1"), ExportRequest{Table: "class", Format: "csv"})
	require.NoError(t, err)

	_, err = svc.Status(models.NewSession("acct-2"), job.ID)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))
}

func TestExportValidation(t *testing.T) {
	svc, _, _ := newExportFixture(t)
	session := models.NewSession("acct-1")

	_, err := svc.Create(context.Background(), session, ExportRequest{Table: "class", Format: "docx"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))

	_, err = svc.Create(context.Background(), session, ExportRequest{Table: "batch", Format: "csv"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))

	_, err = svc.Create(context.Background(), session, ExportRequest{Table: "defaulters", Kind: "Practical", Format: "csv"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestExportFailsAfterRetriesExhausted(t *testing.T) {
	svc, _, dispatcher := newExportFixture(t)
	session := models.NewSession("acct-1")

	// No class ledger stored, so the render cannot succeed.
	job, err := svc.Create(context.Background(), session, ExportRequest{Table: "class", Format: "csv"})
	require.NoError(t, err)

	failing := dispatcher.enqueued[0]
	failing.Attempt = 3
	require.Error(t, svc.Handle(context.Background(), failing))

	failed, err := svc.Status(session, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ExportStatusFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)
}
