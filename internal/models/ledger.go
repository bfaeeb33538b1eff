package models

import (
	"strconv"
	"strings"
	"time"

	appErrors "github.com/trackmate/attendance-api/pkg/errors"
)

// Status is a per-student, per-session attendance mark. The empty status
// means the student had no session that day (practical columns only).
type Status string

const (
	StatusPresent Status = "Present"
	StatusAbsent  Status = "Absent"
	StatusNone    Status = ""
)

// Reserved ledger columns. Session columns may never shadow them.
const (
	ColumnRoll = "roll"
	ColumnName = "name"
)

// TableKind identifies a persisted table in the gateway keyspace.
type TableKind string

const (
	TableRoster     TableKind = "roster"
	TableClass      TableKind = "class"
	TablePractical  TableKind = "practical"
	TableBatch      TableKind = "batch"
	TableDefaulters TableKind = "defaulters"
)

// SessionKind distinguishes class-wide sessions from practical-batch ones.
type SessionKind string

const (
	SessionClass     SessionKind = "Class"
	SessionPractical SessionKind = "Practical"
)

// Valid reports whether the kind is one of the two session kinds.
func (k SessionKind) Valid() bool {
	return k == SessionClass || k == SessionPractical
}

// SessionColumnName builds the ledger column name for one session.
func SessionColumnName(date time.Time, kind SessionKind) string {
	return date.Format("2006-01-02") + "_" + string(kind)
}

// Row is one student's slice of a ledger. Marks is keyed by session column.
type Row struct {
	Roll  int               `json:"roll"`
	Name  string            `json:"name"`
	Marks map[string]Status `json:"marks,omitempty"`
}

// Ledger is a wide attendance table: one row per student, one column per
// recorded session. Columns keeps the insertion order of session columns,
// always starting with the reserved roll and name columns, so that the
// serialized form round-trips chronological order.
type Ledger struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// NewLedger seeds a ledger with roll and name for every roster row.
func NewLedger(roster *Roster) *Ledger {
	l := &Ledger{Columns: []string{ColumnRoll, ColumnName}}
	if roster == nil {
		return l
	}
	l.Rows = make([]Row, 0, len(roster.Students))
	for _, s := range roster.Students {
		l.Rows = append(l.Rows, Row{Roll: s.Roll, Name: s.Name, Marks: map[string]Status{}})
	}
	return l
}

// SessionColumns returns the session column names in insertion order.
func (l *Ledger) SessionColumns() []string {
	if len(l.Columns) <= 2 {
		return nil
	}
	return l.Columns[2:]
}

// SessionCount is the number of recorded session columns.
func (l *Ledger) SessionCount() int {
	return len(l.SessionColumns())
}

// HasColumn reports whether the ledger already holds the named column.
func (l *Ledger) HasColumn(name string) bool {
	for _, c := range l.Columns {
		if c == name {
			return true
		}
	}
	return false
}

func (l *Ledger) ensureColumn(name string) error {
	if name == ColumnRoll || name == ColumnName {
		return appErrors.Clone(appErrors.ErrSchema, "session column '"+name+"' shadows a reserved ledger column")
	}
	if !l.HasColumn(name) {
		l.Columns = append(l.Columns, name)
	}
	return nil
}

// RecordClassColumn writes a class-wide session: every row is Present unless
// its roll is in the absent set. Re-recording the same column overwrites it
// in place, keeping the operation idempotent per date and kind.
func (l *Ledger) RecordClassColumn(column string, absent AbsentSet) error {
	if err := l.ensureColumn(column); err != nil {
		return err
	}
	for i := range l.Rows {
		if l.Rows[i].Marks == nil {
			l.Rows[i].Marks = map[string]Status{}
		}
		if absent.Contains(l.Rows[i].Roll) {
			l.Rows[i].Marks[column] = StatusAbsent
		} else {
			l.Rows[i].Marks[column] = StatusPresent
		}
	}
	return nil
}

// RecordPracticalColumn writes a practical session: batch members are marked
// Present or Absent, everyone else gets the blank status for that column.
func (l *Ledger) RecordPracticalColumn(column string, members map[int]struct{}, absent AbsentSet) error {
	if err := l.ensureColumn(column); err != nil {
		return err
	}
	for i := range l.Rows {
		if l.Rows[i].Marks == nil {
			l.Rows[i].Marks = map[string]Status{}
		}
		roll := l.Rows[i].Roll
		if _, ok := members[roll]; !ok {
			l.Rows[i].Marks[column] = StatusNone
			continue
		}
		if absent.Contains(roll) {
			l.Rows[i].Marks[column] = StatusAbsent
		} else {
			l.Rows[i].Marks[column] = StatusPresent
		}
	}
	return nil
}

// FilterByRolls materializes a copy restricted to rows whose roll is in the
// set, keeping row order and the full column list.
func (l *Ledger) FilterByRolls(rolls map[int]struct{}) *Ledger {
	out := &Ledger{Columns: append([]string(nil), l.Columns...)}
	for _, row := range l.Rows {
		if _, ok := rolls[row.Roll]; !ok {
			continue
		}
		marks := make(map[string]Status, len(row.Marks))
		for k, v := range row.Marks {
			marks[k] = v
		}
		out.Rows = append(out.Rows, Row{Roll: row.Roll, Name: row.Name, Marks: marks})
	}
	return out
}

// AbsentRolls lists the rolls marked exactly Absent in the named column.
// Blank statuses do not count.
func (l *Ledger) AbsentRolls(column string) []int {
	rolls := make([]int, 0)
	for _, row := range l.Rows {
		if row.Marks[column] == StatusAbsent {
			rolls = append(rolls, row.Roll)
		}
	}
	return rolls
}

// ColumnAbsence pairs a session column with the rolls absent in it.
type ColumnAbsence struct {
	Column      string `json:"column"`
	AbsentRolls []int  `json:"absent_rolls"`
}

// RecentAbsences returns the last window session columns in insertion order,
// each with its absent rolls. Fewer columns than the window yields them all.
func (l *Ledger) RecentAbsences(window int) []ColumnAbsence {
	cols := l.SessionColumns()
	if window > 0 && len(cols) > window {
		cols = cols[len(cols)-window:]
	}
	out := make([]ColumnAbsence, 0, len(cols))
	for _, col := range cols {
		out = append(out, ColumnAbsence{Column: col, AbsentRolls: l.AbsentRolls(col)})
	}
	return out
}

// PresentCount counts session columns where the row is exactly Present.
func (r Row) PresentCount(sessionColumns []string) int {
	count := 0
	for _, col := range sessionColumns {
		if r.Marks[col] == StatusPresent {
			count++
		}
	}
	return count
}

// AbsentSet is the parsed form of the free-text absent roll input. Numeric
// tokens collapse into integers; anything else is kept as a raw token that
// can never match an integer roll, mirroring the lenient input handling the
// form-based workflow always had.
type AbsentSet struct {
	Rolls  map[int]struct{}    `json:"rolls"`
	Tokens map[string]struct{} `json:"tokens"`
}

// ParseAbsentRolls splits comma separated input, trims each token and parses
// it as an integer when possible.
func ParseAbsentRolls(raw string) AbsentSet {
	set := AbsentSet{Rolls: map[int]struct{}{}, Tokens: map[string]struct{}{}}
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if roll, err := strconv.Atoi(token); err == nil {
			set.Rolls[roll] = struct{}{}
		} else {
			set.Tokens[token] = struct{}{}
		}
	}
	return set
}

// Contains reports whether the given roll was marked absent.
func (s AbsentSet) Contains(roll int) bool {
	_, ok := s.Rolls[roll]
	return ok
}

// Len returns the number of distinct parsed entries.
func (s AbsentSet) Len() int {
	return len(s.Rolls) + len(s.Tokens)
}
