package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trackmate/attendance-api/internal/models"
	appErrors "github.com/trackmate/attendance-api/pkg/errors"
	"github.com/trackmate/attendance-api/pkg/export"
	"github.com/trackmate/attendance-api/pkg/jobs"
	"github.com/trackmate/attendance-api/pkg/storage"
)

// ExportFormat enumerates supported render targets.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatPDF  ExportFormat = "pdf"
	ExportFormatXLSX ExportFormat = "xlsx"
)

// ExportStatus tracks the lifecycle of one export job.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "queued"
	ExportStatusProcessing ExportStatus = "processing"
	ExportStatusFinished   ExportStatus = "finished"
	ExportStatusFailed     ExportStatus = "failed"
)

type exportStore interface {
	GetLedger(ctx context.Context, accountID string, kind models.TableKind, batchKey string) (*models.Ledger, error)
	GetRoster(ctx context.Context, accountID string) (*models.Roster, error)
	GetDefaulters(ctx context.Context, accountID, snapshotKey string) (*models.DefaulterSnapshot, error)
}

type exportFileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type exportDispatcher interface {
	Enqueue(job jobs.Job) error
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type xlsxRenderer interface {
	Render(data export.Dataset, sheet string) ([]byte, error)
}

// ExportRequest selects the table to render and the output format.
type ExportRequest struct {
	Table  string `json:"table" validate:"required,oneof=roster class practical batch defaulters"`
	Kind   string `json:"kind" validate:"omitempty,session_kind"`
	Batch  string `json:"batch" validate:"omitempty,batch_label"`
	Format string `json:"format" validate:"required,oneof=csv pdf xlsx"`
}

// ExportJob is the tracked state of one export.
type ExportJob struct {
	ID         string        `json:"id"`
	AccountID  string        `json:"-"`
	Request    ExportRequest `json:"request"`
	Status     ExportStatus  `json:"status"`
	Error      string        `json:"error,omitempty"`
	ResultURL  string        `json:"result_url,omitempty"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File      *os.File
	Filename  string
	Format    ExportFormat
	ExpiresAt time.Time
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

// ExportService renders attendance tables to files asynchronously. Job state
// lives in memory; the rendered files and their signed tokens survive
// restarts, pending job records do not.
type ExportService struct {
	store     exportStore
	files     exportFileStorage
	signer    *storage.SignedURLSigner
	queue     exportDispatcher
	csv       csvRenderer
	pdf       pdfRenderer
	xlsx      xlsxRenderer
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig

	mu   sync.RWMutex
	jobs map[string]*ExportJob
}

// NewExportService constructs an ExportService.
func NewExportService(store exportStore, files exportFileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, validate *validator.Validate, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	RegisterAttendanceValidations(validate)
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &ExportService{
		store:     store,
		files:     files,
		signer:    signer,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		xlsx:      export.NewXLSXExporter(),
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		jobs:      map[string]*ExportJob{},
	}
}

// SetDispatcher wires the job queue. Separate from the constructor because
// the queue handler needs the service instance.
func (s *ExportService) SetDispatcher(queue exportDispatcher) {
	s.queue = queue
}

// Create validates the request, registers a job and enqueues rendering.
func (s *ExportService) Create(ctx context.Context, session *models.Session, req ExportRequest) (*ExportJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export request")
	}
	if req.Table == string(models.TableBatch) || req.Table == string(models.TableDefaulters) {
		if req.Table == string(models.TableDefaulters) {
			if !models.SessionKind(req.Kind).Valid() {
				return nil, appErrors.Clone(appErrors.ErrValidation, "kind is required for defaulter exports")
			}
			if models.SessionKind(req.Kind) == models.SessionPractical && req.Batch == "" {
				return nil, appErrors.Clone(appErrors.ErrValidation, "batch is required for practical defaulter exports")
			}
		} else if req.Batch == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "batch is required for batch ledger exports")
		}
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "export queue is not running")
	}

	job := &ExportJob{
		ID:        uuid.NewString(),
		AccountID: session.AccountID,
		Request:   req,
		Status:    ExportStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "export"}); err != nil {
		s.finishJob(job.ID, ExportStatusFailed, "", nil, "failed to enqueue export")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export")
	}
	return s.snapshotJob(job.ID), nil
}

// Status returns the tracked job, enforcing account ownership.
func (s *ExportService) Status(session *models.Session, id string) (*ExportJob, error) {
	job := s.snapshotJob(id)
	if job == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	if job.AccountID != session.AccountID {
		return nil, appErrors.ErrForbidden
	}
	return job, nil
}

// Handle processes one queued export. Wired as the jobs.Queue handler.
func (s *ExportService) Handle(ctx context.Context, job jobs.Job) error {
	record := s.snapshotJob(job.ID)
	if record == nil {
		return fmt.Errorf("export job %s not tracked", job.ID)
	}
	s.setStatus(job.ID, ExportStatusProcessing)

	dataset, title, err := s.buildDataset(ctx, record)
	if err == nil {
		var payload []byte
		format := ExportFormat(record.Request.Format)
		switch format {
		case ExportFormatCSV:
			payload, err = s.csv.Render(dataset)
		case ExportFormatPDF:
			payload, err = s.pdf.Render(dataset, title)
		case ExportFormatXLSX:
			payload, err = s.xlsx.Render(dataset, title)
		default:
			err = fmt.Errorf("unsupported format %s", record.Request.Format)
		}
		if err == nil {
			err = s.persist(job.ID, record, payload)
		}
	}
	if err != nil {
		if job.Attempt >= s.cfg.MaxRetries {
			s.finishJob(job.ID, ExportStatusFailed, "", nil, err.Error())
		} else {
			s.setStatus(job.ID, ExportStatusQueued)
		}
		return err
	}
	return nil
}

func (s *ExportService) persist(id string, record *ExportJob, payload []byte) error {
	filename := s.buildFilename(record)
	relPath, err := s.files.Save(filename, payload)
	if err != nil {
		return err
	}
	token, expiresAt, err := s.signer.Generate(id, relPath)
	if err != nil {
		return err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	url := fmt.Sprintf("%s/exports/download/%s", prefix, token)
	s.finishJob(id, ExportStatusFinished, url, &expiresAt, "")
	return nil
}

// ResolveDownload validates the token and opens the rendered file.
func (s *ExportService) ResolveDownload(token string) (*ExportDownload, error) {
	jobID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job := s.snapshotJob(jobID)
	format := ExportFormat(strings.TrimPrefix(filepath.Ext(relPath), "."))
	if job != nil {
		if job.Status != ExportStatusFinished {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "export not ready")
		}
		format = ExportFormat(job.Request.Format)
	}
	file, err := s.files.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file no longer available")
	}
	return &ExportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    format,
		ExpiresAt: expiresAt,
	}, nil
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired()
			}
		}
	}()
}

func (s *ExportService) cleanupExpired() {
	if deleted, err := s.files.CleanupOlderThan(s.cfg.ResultTTL); err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
	} else if len(deleted) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(deleted)))
	}

	cutoff := time.Now().UTC().Add(-s.cfg.ResultTTL)
	s.mu.Lock()
	for id, job := range s.jobs {
		if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()
}

func (s *ExportService) buildDataset(ctx context.Context, record *ExportJob) (export.Dataset, string, error) {
	accountID := record.AccountID
	req := record.Request
	switch req.Table {
	case string(models.TableRoster):
		roster, err := s.store.GetRoster(ctx, accountID)
		if err != nil {
			return export.Dataset{}, "", s.mapStoreErr(err, "no roster uploaded yet")
		}
		return rosterDataset(roster), "Roster", nil
	case string(models.TableDefaulters):
		kind := models.SessionKind(req.Kind)
		batch, _ := models.ParseBatch(req.Batch)
		snapshot, err := s.store.GetDefaulters(ctx, accountID, models.SnapshotKey(kind, batch))
		if err != nil {
			return export.Dataset{}, "", s.mapStoreErr(err, "no defaulter snapshot computed yet")
		}
		return defaulterDataset(snapshot), "Defaulters", nil
	default:
		kind := models.TableKind(req.Table)
		batchKey := ""
		title := "Class Attendance"
		if kind == models.TableBatch {
			batchKey = req.Batch
			title = "Batch " + req.Batch + " Attendance"
		} else if kind == models.TablePractical {
			title = "Practical Attendance"
		}
		ledger, err := s.store.GetLedger(ctx, accountID, kind, batchKey)
		if err != nil {
			return export.Dataset{}, "", s.mapStoreErr(err, "no attendance recorded yet")
		}
		return ledgerDataset(ledger), title, nil
	}
}

func (s *ExportService) mapStoreErr(err error, missing string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, missing)
	}
	return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load export source")
}

func (s *ExportService) buildFilename(record *ExportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	parts := []string{record.Request.Table}
	if record.Request.Batch != "" {
		parts = append(parts, record.Request.Batch)
	}
	parts = append(parts, timestamp)
	return fmt.Sprintf("%s.%s", strings.Join(parts, "_"), record.Request.Format)
}

func (s *ExportService) snapshotJob(id string) *ExportJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	snap := *job
	return &snap
}

func (s *ExportService) setStatus(id string, status ExportStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Status = status
	}
}

func (s *ExportService) finishJob(id string, status ExportStatus, url string, expiresAt *time.Time, errMsg string) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Status = status
		job.ResultURL = url
		job.ExpiresAt = expiresAt
		job.Error = errMsg
		job.FinishedAt = &now
	}
}

func ledgerDataset(ledger *models.Ledger) export.Dataset {
	rows := make([]map[string]string, 0, len(ledger.Rows))
	for _, row := range ledger.Rows {
		record := map[string]string{
			models.ColumnRoll: strconv.Itoa(row.Roll),
			models.ColumnName: row.Name,
		}
		for _, col := range ledger.SessionColumns() {
			record[col] = string(row.Marks[col])
		}
		rows = append(rows, record)
	}
	return export.Dataset{Headers: append([]string(nil), ledger.Columns...), Rows: rows}
}

func rosterDataset(roster *models.Roster) export.Dataset {
	rows := make([]map[string]string, 0, len(roster.Students))
	for _, s := range roster.Students {
		rows = append(rows, map[string]string{
			"roll":  strconv.Itoa(s.Roll),
			"name":  s.Name,
			"batch": string(s.Batch),
		})
	}
	return export.Dataset{Headers: []string{"roll", "name", "batch"}, Rows: rows}
}

func defaulterDataset(snapshot *models.DefaulterSnapshot) export.Dataset {
	rows := make([]map[string]string, 0, len(snapshot.Rows))
	for _, row := range snapshot.Rows {
		rows = append(rows, map[string]string{
			"roll":           strconv.Itoa(row.Roll),
			"name":           row.Name,
			"attendance_pct": fmt.Sprintf("%.2f", row.Percentage),
		})
	}
	return export.Dataset{Headers: []string{"roll", "name", "attendance_pct"}, Rows: rows}
}
