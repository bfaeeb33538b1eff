package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/trackmate/attendance-api/pkg/errors"
)

func testRoster(t *testing.T) *Roster {
	t.Helper()
	roster, err := BuildRoster(
		[]string{"roll", "name"},
		[]map[string]string{
			{"roll": "1", "name": "Ann"},
			{"roll": "25", "name": "Bo"},
			{"roll": "45", "name": "Cy"},
		},
	)
	require.NoError(t, err)
	return roster
}

func TestParseAbsentRollsMixedTokens(t *testing.T) {
	set := ParseAbsentRolls(" 7 , x, 07")
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains(7))
	_, kept := set.Tokens["x"]
	assert.True(t, kept)
	// Non-numeric tokens never match an integer roll.
	assert.False(t, set.Contains(0))
}

func TestParseAbsentRollsEmpty(t *testing.T) {
	set := ParseAbsentRolls("")
	assert.Equal(t, 0, set.Len())
	set = ParseAbsentRolls(" , ,")
	assert.Equal(t, 0, set.Len())
}

func TestSessionColumnName(t *testing.T) {
	date := time.Date(2024, 1, 10, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "2024-01-10_Class", SessionColumnName(date, SessionClass))
	assert.Equal(t, "2024-01-10_Practical", SessionColumnName(date, SessionPractical))
}

func TestRecordClassColumn(t *testing.T) {
	ledger := NewLedger(testRoster(t))
	require.NoError(t, ledger.RecordClassColumn("2024-01-10_Class", ParseAbsentRolls("25")))

	assert.Equal(t, []string{"roll", "name", "2024-01-10_Class"}, ledger.Columns)
	assert.Equal(t, StatusPresent, ledger.Rows[0].Marks["2024-01-10_Class"])
	assert.Equal(t, StatusAbsent, ledger.Rows[1].Marks["2024-01-10_Class"])
	assert.Equal(t, StatusPresent, ledger.Rows[2].Marks["2024-01-10_Class"])
}

func TestRecordClassColumnOverwritesInPlace(t *testing.T) {
	ledger := NewLedger(testRoster(t))
	require.NoError(t, ledger.RecordClassColumn("2024-01-10_Class", ParseAbsentRolls("25")))
	require.NoError(t, ledger.RecordClassColumn("2024-01-10_Class", ParseAbsentRolls("45")))

	assert.Equal(t, 1, ledger.SessionCount())
	assert.Equal(t, StatusPresent, ledger.Rows[1].Marks["2024-01-10_Class"])
	assert.Equal(t, StatusAbsent, ledger.Rows[2].Marks["2024-01-10_Class"])
}

func TestRecordPracticalColumnBlanksOtherBatches(t *testing.T) {
	roster := testRoster(t)
	ledger := NewLedger(roster)
	members := roster.BatchRollSet(BatchB)
	require.NoError(t, ledger.RecordPracticalColumn("2024-01-11_Practical", members, ParseAbsentRolls("")))

	assert.Equal(t, StatusNone, ledger.Rows[0].Marks["2024-01-11_Practical"])
	assert.Equal(t, StatusPresent, ledger.Rows[1].Marks["2024-01-11_Practical"])
	assert.Equal(t, StatusNone, ledger.Rows[2].Marks["2024-01-11_Practical"])
}

func TestRecordColumnRejectsReservedNames(t *testing.T) {
	ledger := NewLedger(testRoster(t))
	err := ledger.RecordClassColumn("roll", ParseAbsentRolls(""))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSchema))

	err = ledger.RecordPracticalColumn("name", nil, ParseAbsentRolls(""))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSchema))
}

func TestFilterByRollsCopiesRows(t *testing.T) {
	roster := testRoster(t)
	ledger := NewLedger(roster)
	require.NoError(t, ledger.RecordClassColumn("2024-01-10_Class", ParseAbsentRolls("")))

	filtered := ledger.FilterByRolls(roster.BatchRollSet(BatchB))
	require.Len(t, filtered.Rows, 1)
	assert.Equal(t, 25, filtered.Rows[0].Roll)
	assert.Equal(t, ledger.Columns, filtered.Columns)

	filtered.Rows[0].Marks["2024-01-10_Class"] = StatusAbsent
	assert.Equal(t, StatusPresent, ledger.Rows[1].Marks["2024-01-10_Class"])
}

func TestRecentAbsencesWindow(t *testing.T) {
	ledger := NewLedger(testRoster(t))
	dates := []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-06"}
	for _, d := range dates {
		require.NoError(t, ledger.RecordClassColumn(d+"_Class", ParseAbsentRolls("1")))
	}

	recent := ledger.RecentAbsences(5)
	require.Len(t, recent, 5)
	assert.Equal(t, "2024-01-02_Class", recent[0].Column)
	assert.Equal(t, "2024-01-06_Class", recent[4].Column)
	assert.Equal(t, []int{1}, recent[0].AbsentRolls)
}

func TestRecentAbsencesFewerColumnsThanWindow(t *testing.T) {
	ledger := NewLedger(testRoster(t))
	assert.Empty(t, ledger.RecentAbsences(5))

	require.NoError(t, ledger.RecordClassColumn("2024-01-10_Class", ParseAbsentRolls("")))
	recent := ledger.RecentAbsences(5)
	require.Len(t, recent, 1)
	assert.Empty(t, recent[0].AbsentRolls)
}

func TestBlankStatusDoesNotCountAsAbsent(t *testing.T) {
	roster := testRoster(t)
	ledger := NewLedger(roster)
	require.NoError(t, ledger.RecordPracticalColumn("2024-01-11_Practical", roster.BatchRollSet(BatchB), ParseAbsentRolls("25")))

	assert.Equal(t, []int{25}, ledger.AbsentRolls("2024-01-11_Practical"))
}

func TestLedgerSerializationKeepsColumnOrder(t *testing.T) {
	ledger := NewLedger(testRoster(t))
	require.NoError(t, ledger.RecordClassColumn("2024-01-10_Class", ParseAbsentRolls("")))
	require.NoError(t, ledger.RecordClassColumn("2024-01-02_Class", ParseAbsentRolls("")))

	payload, err := json.Marshal(ledger)
	require.NoError(t, err)

	restored := &Ledger{}
	require.NoError(t, json.Unmarshal(payload, restored))
	// Insertion order survives, not lexical date order.
	assert.Equal(t, []string{"roll", "name", "2024-01-10_Class", "2024-01-02_Class"}, restored.Columns)
}

func TestPresentCountExactMatchOnly(t *testing.T) {
	row := Row{Roll: 1, Marks: map[string]Status{
		"a": StatusPresent,
		"b": StatusAbsent,
		"c": StatusNone,
	}}
	assert.Equal(t, 1, row.PresentCount([]string{"a", "b", "c"}))
}
