package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackmate/attendance-api/internal/models"
)

func newLedgerRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return sqlxDB, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

func sampleLedger(t *testing.T) *models.Ledger {
	t.Helper()
	roster, err := models.BuildRoster(
		[]string{"roll", "name"},
		[]map[string]string{
			{"roll": "1", "name": "Ann"},
			{"roll": "25", "name": "Bo"},
		},
	)
	require.NoError(t, err)
	ledger := models.NewLedger(roster)
	require.NoError(t, ledger.RecordClassColumn("2024-01-10_Class", models.ParseAbsentRolls("25")))
	return ledger
}

func TestLedgerRepositoryGetLedger(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	ledger := sampleLedger(t)
	raw, err := json.Marshal(ledger)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT document FROM ledgers").
		WithArgs("acct-1", "class", "").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(raw))

	repo := NewLedgerRepository(db)
	loaded, err := repo.GetLedger(context.Background(), "acct-1", models.TableClass, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.Columns, loaded.Columns)
	assert.Equal(t, models.StatusAbsent, loaded.Rows[1].Marks["2024-01-10_Class"])
}

func TestLedgerRepositoryGetLedgerAbsent(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT document FROM ledgers").
		WithArgs("acct-1", "class", "").
		WillReturnError(sql.ErrNoRows)

	repo := NewLedgerRepository(db)
	_, err := repo.GetLedger(context.Background(), "acct-1", models.TableClass, "")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestLedgerRepositoryPutLedger(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO ledgers").
		WithArgs("acct-1", "class", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewLedgerRepository(db)
	require.NoError(t, repo.PutLedger(context.Background(), "acct-1", models.TableClass, "", sampleLedger(t)))
}

func TestLedgerRepositoryPutPracticalLedgersTransactional(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	ledger := sampleLedger(t)
	batches := map[models.Batch]*models.Ledger{
		models.BatchA: ledger.FilterByRolls(map[int]struct{}{1: {}}),
		models.BatchB: ledger.FilterByRolls(map[int]struct{}{25: {}}),
		models.BatchC: ledger.FilterByRolls(map[int]struct{}{}),
		models.BatchD: ledger.FilterByRolls(map[int]struct{}{}),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledgers").
		WithArgs("acct-1", "practical", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	for _, batch := range []string{"A", "B", "C", "D"} {
		mock.ExpectExec("INSERT INTO ledgers").
			WithArgs("acct-1", "batch", batch, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	repo := NewLedgerRepository(db)
	require.NoError(t, repo.PutPracticalLedgers(context.Background(), "acct-1", ledger, batches))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryPutPracticalLedgersRollsBack(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	ledger := sampleLedger(t)
	batches := map[models.Batch]*models.Ledger{
		models.BatchA: ledger.FilterByRolls(map[int]struct{}{1: {}}),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledgers").
		WithArgs("acct-1", "practical", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	repo := NewLedgerRepository(db)
	err := repo.PutPracticalLedgers(context.Background(), "acct-1", ledger, batches)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryRosterRoundTrip(t *testing.T) {
	db, mock, cleanup := newLedgerRepoMock(t)
	defer cleanup()

	roster, err := models.BuildRoster(
		[]string{"roll", "name"},
		[]map[string]string{{"roll": "7", "name": "Ann"}},
	)
	require.NoError(t, err)
	raw, err := json.Marshal(roster)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO ledgers").
		WithArgs("acct-1", "roster", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT document FROM ledgers").
		WithArgs("acct-1", "roster", "").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(raw))

	repo := NewLedgerRepository(db)
	require.NoError(t, repo.PutRoster(context.Background(), "acct-1", roster))
	loaded, err := repo.GetRoster(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, loaded.Students, 1)
	assert.Equal(t, models.BatchA, loaded.Students[0].Batch)
}
