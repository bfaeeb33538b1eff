package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trackmate/attendance-api/internal/models"
)

// LedgerRepository is the persistence gateway for attendance tables. Every
// table (roster, class ledger, practical ledger, derived batch ledgers and
// defaulter snapshots) is stored as one JSONB document keyed by
// (account_id, table_kind, batch_key); the document encoding preserves
// column insertion order.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const (
	selectDocumentQuery = `SELECT document FROM ledgers WHERE account_id = $1 AND table_kind = $2 AND batch_key = $3`
	upsertDocumentQuery = `INSERT INTO ledgers (account_id, table_kind, batch_key, document, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (account_id, table_kind, batch_key)
DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`
)

func (r *LedgerRepository) getDocument(ctx context.Context, accountID string, kind models.TableKind, batchKey string, dest interface{}) error {
	var raw []byte
	if err := r.db.GetContext(ctx, &raw, selectDocumentQuery, accountID, string(kind), batchKey); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s document: %w", kind, err)
	}
	return nil
}

func (r *LedgerRepository) putDocument(ctx context.Context, accountID string, kind models.TableKind, batchKey string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s document: %w", kind, err)
	}
	if _, err := r.db.ExecContext(ctx, upsertDocumentQuery, accountID, string(kind), batchKey, raw, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert %s document: %w", kind, err)
	}
	return nil
}

// GetLedger loads one ledger. sql.ErrNoRows is passed through when no table
// has been persisted yet.
func (r *LedgerRepository) GetLedger(ctx context.Context, accountID string, kind models.TableKind, batchKey string) (*models.Ledger, error) {
	ledger := &models.Ledger{}
	if err := r.getDocument(ctx, accountID, kind, batchKey, ledger); err != nil {
		return nil, err
	}
	return ledger, nil
}

// PutLedger stores one ledger under its key, replacing any previous version.
func (r *LedgerRepository) PutLedger(ctx context.Context, accountID string, kind models.TableKind, batchKey string, ledger *models.Ledger) error {
	return r.putDocument(ctx, accountID, kind, batchKey, ledger)
}

// PutPracticalLedgers stores the practical ledger and all derived batch
// ledgers inside one transaction, so a mid-sequence failure can never leave
// the batch ledgers inconsistent with the practical ledger.
func (r *LedgerRepository) PutPracticalLedgers(ctx context.Context, accountID string, practical *models.Ledger, batches map[models.Batch]*models.Ledger) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin practical tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	write := func(kind models.TableKind, batchKey string, doc interface{}) error {
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode %s document: %w", kind, err)
		}
		if _, err := tx.ExecContext(ctx, upsertDocumentQuery, accountID, string(kind), batchKey, raw, now); err != nil {
			return fmt.Errorf("upsert %s document: %w", kind, err)
		}
		return nil
	}

	if err := write(models.TablePractical, "", practical); err != nil {
		return err
	}
	for _, batch := range models.AllBatches() {
		ledger, ok := batches[batch]
		if !ok {
			continue
		}
		if err := write(models.TableBatch, string(batch), ledger); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit practical tx: %w", err)
	}
	return nil
}

// GetRoster loads the persisted roster blob for the account.
func (r *LedgerRepository) GetRoster(ctx context.Context, accountID string) (*models.Roster, error) {
	roster := &models.Roster{}
	if err := r.getDocument(ctx, accountID, models.TableRoster, "", roster); err != nil {
		return nil, err
	}
	return roster, nil
}

// PutRoster replaces the persisted roster for the account. Previously
// persisted ledgers are left untouched.
func (r *LedgerRepository) PutRoster(ctx context.Context, accountID string, roster *models.Roster) error {
	return r.putDocument(ctx, accountID, models.TableRoster, "", roster)
}

// GetDefaulters loads the current defaulter snapshot for the key.
func (r *LedgerRepository) GetDefaulters(ctx context.Context, accountID, snapshotKey string) (*models.DefaulterSnapshot, error) {
	snapshot := &models.DefaulterSnapshot{}
	if err := r.getDocument(ctx, accountID, models.TableDefaulters, snapshotKey, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// PutDefaulters overwrites the defaulter snapshot for the key.
func (r *LedgerRepository) PutDefaulters(ctx context.Context, accountID, snapshotKey string, snapshot *models.DefaulterSnapshot) error {
	return r.putDocument(ctx, accountID, models.TableDefaulters, snapshotKey, snapshot)
}
