package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/trackmate/attendance-api/internal/models"
	appErrors "github.com/trackmate/attendance-api/pkg/errors"
)

// DefaultDefaulterThreshold is the attendance percentage below which a
// student is flagged.
const DefaultDefaulterThreshold = 80.0

type defaulterStore interface {
	GetLedger(ctx context.Context, accountID string, kind models.TableKind, batchKey string) (*models.Ledger, error)
	GetDefaulters(ctx context.Context, accountID, snapshotKey string) (*models.DefaulterSnapshot, error)
	PutDefaulters(ctx context.Context, accountID, snapshotKey string, snapshot *models.DefaulterSnapshot) error
}

// DefaulterService computes and serves attendance-percentage snapshots.
type DefaulterService struct {
	store     defaulterStore
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDefaulterService constructs the defaulter service.
func NewDefaulterService(store defaulterStore, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *DefaulterService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	RegisterAttendanceValidations(validate)
	return &DefaulterService{store: store, cache: cache, validator: validate, logger: logger}
}

// ComputeDefaultersRequest selects which ledger to score.
type ComputeDefaultersRequest struct {
	Kind      string  `json:"kind" validate:"required,session_kind"`
	Batch     string  `json:"batch" validate:"omitempty,batch_label"`
	Threshold float64 `json:"threshold" validate:"omitempty,gt=0,lte=100"`
}

// DefaulterResult carries the full scored roster plus the persisted snapshot
// of students under the threshold.
type DefaulterResult struct {
	Scores   []models.DefaulterRow     `json:"scores"`
	Snapshot *models.DefaulterSnapshot `json:"snapshot"`
}

// Compute scores every student on the selected ledger and persists a fresh
// snapshot of those below the threshold, replacing the previous one.
func (s *DefaulterService) Compute(ctx context.Context, session *models.Session, req ComputeDefaultersRequest) (*DefaulterResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid defaulter request")
	}
	kind := models.SessionKind(req.Kind)
	threshold := req.Threshold
	if threshold == 0 {
		threshold = DefaultDefaulterThreshold
	}

	tableKind, batchKey := models.TableClass, ""
	var batch models.Batch
	if kind == models.SessionPractical {
		parsed, ok := models.ParseBatch(req.Batch)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "batch selection is required for practical defaulters")
		}
		batch = parsed
		tableKind, batchKey = models.TableBatch, string(batch)
	}

	ledger, err := s.store.GetLedger(ctx, session.AccountID, tableKind, batchKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInsufficientData, "no attendance has been recorded for this selection yet")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load ledger")
	}
	if ledger.SessionCount() == 0 {
		return nil, appErrors.Clone(appErrors.ErrInsufficientData, "at least one recorded session is required to compute defaulters")
	}

	sessionColumns := ledger.SessionColumns()
	total := float64(len(sessionColumns))
	scores := make([]models.DefaulterRow, 0, len(ledger.Rows))
	flagged := make([]models.DefaulterRow, 0)
	for _, row := range ledger.Rows {
		pct := float64(row.PresentCount(sessionColumns)) / total * 100
		scored := models.DefaulterRow{Roll: row.Roll, Name: row.Name, Percentage: pct}
		scores = append(scores, scored)
		if pct < threshold {
			flagged = append(flagged, scored)
		}
	}

	snapshot := &models.DefaulterSnapshot{
		Type:       kind,
		Batch:      batch,
		Threshold:  threshold,
		Sessions:   len(sessionColumns),
		Rows:       flagged,
		ComputedAt: time.Now().UTC(),
	}
	key := models.SnapshotKey(kind, batch)
	if err := s.store.PutDefaulters(ctx, session.AccountID, key, snapshot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist defaulter snapshot")
	}
	if err := s.cache.Invalidate(ctx, "defaulters:"+session.AccountID+":*"); err != nil {
		s.logger.Warn("defaulter cache invalidation failed", zap.String("account_id", session.AccountID), zap.Error(err))
	}

	s.logger.Info("defaulter snapshot computed",
		zap.String("account_id", session.AccountID),
		zap.String("snapshot_key", key),
		zap.Int("sessions", snapshot.Sessions),
		zap.Int("flagged", len(flagged)),
	)
	return &DefaulterResult{Scores: scores, Snapshot: snapshot}, nil
}

// Current returns the persisted snapshot for the selection, if any.
func (s *DefaulterService) Current(ctx context.Context, session *models.Session, kind models.SessionKind, batch models.Batch) (*models.DefaulterSnapshot, error) {
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown session kind")
	}
	if kind == models.SessionPractical {
		if _, ok := models.ParseBatch(string(batch)); !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "batch selection is required for practical defaulters")
		}
	}

	key := models.SnapshotKey(kind, batch)
	cacheKey := "defaulters:" + session.AccountID + ":" + key
	snapshot := &models.DefaulterSnapshot{}
	if hit, _ := s.cache.Get(ctx, cacheKey, snapshot); hit {
		return snapshot, nil
	}

	snapshot, err := s.store.GetDefaulters(ctx, session.AccountID, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no defaulter snapshot computed yet")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load defaulter snapshot")
	}
	_ = s.cache.Set(ctx, cacheKey, snapshot, 0)
	return snapshot, nil
}
