package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/trackmate/attendance-api/internal/models"
	appErrors "github.com/trackmate/attendance-api/pkg/errors"
)

type ledgerStore interface {
	GetLedger(ctx context.Context, accountID string, kind models.TableKind, batchKey string) (*models.Ledger, error)
	PutLedger(ctx context.Context, accountID string, kind models.TableKind, batchKey string, ledger *models.Ledger) error
	PutPracticalLedgers(ctx context.Context, accountID string, practical *models.Ledger, batches map[models.Batch]*models.Ledger) error
	GetRoster(ctx context.Context, accountID string) (*models.Roster, error)
}

// AttendanceService owns session recording and ledger reads.
type AttendanceService struct {
	store     ledgerStore
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(store ledgerStore, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	RegisterAttendanceValidations(validate)
	return &AttendanceService{store: store, cache: cache, validator: validate, logger: logger}
}

// RegisterAttendanceValidations adds the custom attendance validators shared
// by the attendance and defaulter services.
func RegisterAttendanceValidations(validate *validator.Validate) {
	_ = validate.RegisterValidation("session_kind", func(fl validator.FieldLevel) bool {
		return models.SessionKind(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("batch_label", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseBatch(fl.Field().String())
		return ok
	})
}

// RecordSessionRequest describes one take-attendance submission.
type RecordSessionRequest struct {
	Date        string `json:"date" validate:"required"`
	Kind        string `json:"kind" validate:"required,session_kind"`
	Batch       string `json:"batch" validate:"omitempty,batch_label"`
	AbsentRolls string `json:"absent_rolls"`
}

// RecordSession appends (or overwrites) one session column on the relevant
// ledger and persists the result. Practical sessions additionally re-derive
// and persist all four batch ledgers together with the practical ledger.
func (s *AttendanceService) RecordSession(ctx context.Context, session *models.Session, req RecordSessionRequest) (*models.Ledger, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	kind := models.SessionKind(req.Kind)

	roster, err := s.roster(ctx, session)
	if err != nil {
		return nil, err
	}

	column := models.SessionColumnName(date, kind)
	absent := models.ParseAbsentRolls(req.AbsentRolls)

	switch kind {
	case models.SessionClass:
		return s.recordClass(ctx, session, roster, column, absent)
	case models.SessionPractical:
		batch, ok := models.ParseBatch(req.Batch)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "batch selection is required for practical sessions")
		}
		return s.recordPractical(ctx, session, roster, column, batch, absent)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown session kind")
	}
}

func (s *AttendanceService) recordClass(ctx context.Context, session *models.Session, roster *models.Roster, column string, absent models.AbsentSet) (*models.Ledger, error) {
	ledger, err := s.loadOrSeed(ctx, session.AccountID, models.TableClass, "", roster)
	if err != nil {
		return nil, err
	}
	if err := ledger.RecordClassColumn(column, absent); err != nil {
		return nil, err
	}
	if err := s.store.PutLedger(ctx, session.AccountID, models.TableClass, "", ledger); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist class ledger")
	}
	s.invalidateLedgers(ctx, session.AccountID)
	s.logger.Info("class session recorded",
		zap.String("account_id", session.AccountID),
		zap.String("column", column),
		zap.Int("absent", absent.Len()),
	)
	return ledger, nil
}

func (s *AttendanceService) recordPractical(ctx context.Context, session *models.Session, roster *models.Roster, column string, batch models.Batch, absent models.AbsentSet) (*models.Ledger, error) {
	ledger, err := s.loadOrSeed(ctx, session.AccountID, models.TablePractical, "", roster)
	if err != nil {
		return nil, err
	}
	if err := ledger.RecordPracticalColumn(column, roster.BatchRollSet(batch), absent); err != nil {
		return nil, err
	}

	// Full materialization: every batch ledger is the practical ledger
	// restricted to that batch's roster rolls.
	batches := make(map[models.Batch]*models.Ledger, 4)
	for _, b := range models.AllBatches() {
		batches[b] = ledger.FilterByRolls(roster.BatchRollSet(b))
	}

	if err := s.store.PutPracticalLedgers(ctx, session.AccountID, ledger, batches); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist practical ledgers")
	}
	s.invalidateLedgers(ctx, session.AccountID)
	s.logger.Info("practical session recorded",
		zap.String("account_id", session.AccountID),
		zap.String("column", column),
		zap.String("batch", string(batch)),
		zap.Int("absent", absent.Len()),
	)
	return ledger, nil
}

// RecentAbsences returns the absence lists for the last window sessions of
// the selected view: the class ledger, or one batch ledger for practicals.
func (s *AttendanceService) RecentAbsences(ctx context.Context, session *models.Session, kind models.SessionKind, batch models.Batch, window int) ([]models.ColumnAbsence, error) {
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown session kind")
	}
	if window <= 0 {
		window = 5
	}

	tableKind, batchKey := models.TableClass, ""
	if kind == models.SessionPractical {
		if _, ok := models.ParseBatch(string(batch)); !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "batch selection is required for practical sessions")
		}
		tableKind, batchKey = models.TableBatch, string(batch)
	}

	ledger, err := s.Ledger(ctx, session, tableKind, batchKey)
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrNotFound) {
			return []models.ColumnAbsence{}, nil
		}
		return nil, err
	}
	return ledger.RecentAbsences(window), nil
}

// Ledger loads one persisted ledger through the cache.
func (s *AttendanceService) Ledger(ctx context.Context, session *models.Session, kind models.TableKind, batchKey string) (*models.Ledger, error) {
	key := ledgerCacheKey(session.AccountID, kind, batchKey)
	ledger := &models.Ledger{}
	if hit, _ := s.cache.Get(ctx, key, ledger); hit {
		return ledger, nil
	}

	ledger, err := s.store.GetLedger(ctx, session.AccountID, kind, batchKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no %s attendance recorded yet", kind))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load ledger")
	}
	_ = s.cache.Set(ctx, key, ledger, 0)
	return ledger, nil
}

func (s *AttendanceService) loadOrSeed(ctx context.Context, accountID string, kind models.TableKind, batchKey string, roster *models.Roster) (*models.Ledger, error) {
	ledger, err := s.store.GetLedger(ctx, accountID, kind, batchKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.NewLedger(roster), nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load ledger")
	}
	return ledger, nil
}

func (s *AttendanceService) roster(ctx context.Context, session *models.Session) (*models.Roster, error) {
	if session.Roster != nil {
		return session.Roster, nil
	}
	roster, err := s.store.GetRoster(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no roster uploaded for this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load roster")
	}
	session.Roster = roster
	return roster, nil
}

func (s *AttendanceService) invalidateLedgers(ctx context.Context, accountID string) {
	if err := s.cache.Invalidate(ctx, "ledger:"+accountID+":*"); err != nil {
		s.logger.Warn("ledger cache invalidation failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

func ledgerCacheKey(accountID string, kind models.TableKind, batchKey string) string {
	return strings.Join([]string{"ledger", accountID, string(kind), batchKey}, ":")
}
