package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/trackmate/attendance-api/internal/models"
	appErrors "github.com/trackmate/attendance-api/pkg/errors"
	"github.com/trackmate/attendance-api/pkg/spreadsheet"
)

type rosterStore interface {
	GetRoster(ctx context.Context, accountID string) (*models.Roster, error)
	PutRoster(ctx context.Context, accountID string, roster *models.Roster) error
}

// RosterService handles roster ingestion and lookup.
type RosterService struct {
	store  rosterStore
	cache  *CacheService
	logger *zap.Logger
}

// NewRosterService constructs the roster service.
func NewRosterService(store rosterStore, cache *CacheService, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{store: store, cache: cache, logger: logger}
}

// Upload validates the parsed spreadsheet, tags every student with a batch
// and replaces the persisted roster. Ledgers recorded against the previous
// roster are left in place.
func (s *RosterService) Upload(ctx context.Context, session *models.Session, table *spreadsheet.Table) (*models.Roster, error) {
	roster, err := models.BuildRoster(table.Headers, table.Rows)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutRoster(ctx, session.AccountID, roster); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to persist roster")
	}
	if err := s.cache.Invalidate(ctx, "roster:"+session.AccountID); err != nil {
		s.logger.Warn("roster cache invalidation failed", zap.String("account_id", session.AccountID), zap.Error(err))
	}
	session.Roster = roster
	s.logger.Info("roster uploaded",
		zap.String("account_id", session.AccountID),
		zap.Int("students", len(roster.Students)),
	)
	return roster, nil
}

// Roster returns the persisted roster for the account.
func (s *RosterService) Roster(ctx context.Context, session *models.Session) (*models.Roster, error) {
	if session.Roster != nil {
		return session.Roster, nil
	}

	key := "roster:" + session.AccountID
	roster := &models.Roster{}
	if hit, _ := s.cache.Get(ctx, key, roster); hit {
		session.Roster = roster
		return roster, nil
	}

	roster, err := s.store.GetRoster(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no roster uploaded for this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load roster")
	}
	_ = s.cache.Set(ctx, key, roster, 0)
	session.Roster = roster
	return roster, nil
}
