package models

import (
	"fmt"
	"strconv"
	"strings"

	appErrors "github.com/trackmate/attendance-api/pkg/errors"
)

// Batch partitions a class by roll-number range for practical sessions.
type Batch string

const (
	BatchA       Batch = "A"
	BatchB       Batch = "B"
	BatchC       Batch = "C"
	BatchD       Batch = "D"
	BatchUnknown Batch = "Unknown"
)

// AllBatches lists the practical batches in their fixed order.
func AllBatches() []Batch {
	return []Batch{BatchA, BatchB, BatchC, BatchD}
}

// ParseBatch normalises a batch selector.
func ParseBatch(raw string) (Batch, bool) {
	switch Batch(strings.ToUpper(strings.TrimSpace(raw))) {
	case BatchA:
		return BatchA, true
	case BatchB:
		return BatchB, true
	case BatchC:
		return BatchC, true
	case BatchD:
		return BatchD, true
	}
	return BatchUnknown, false
}

// Classify maps a roll number onto its batch. Rolls outside 1-80 fall into
// BatchUnknown. The result is derived, never stored as ground truth.
func Classify(roll int) Batch {
	switch {
	case roll >= 1 && roll <= 20:
		return BatchA
	case roll >= 21 && roll <= 40:
		return BatchB
	case roll >= 41 && roll <= 60:
		return BatchC
	case roll >= 61 && roll <= 80:
		return BatchD
	}
	return BatchUnknown
}

// Student is one roster entry. Batch is derived from the roll at build time.
type Student struct {
	Roll  int    `json:"roll"`
	Name  string `json:"name"`
	Batch Batch  `json:"batch"`
}

// Roster is the authoritative student list for one account. Duplicate rolls
// are kept as distinct rows in upload order.
type Roster struct {
	Students []Student `json:"students"`
}

// BuildRoster validates the uploaded table shape and tags every row with its
// derived batch. The roll and name column names are exact and case sensitive.
func BuildRoster(headers []string, rows []map[string]string) (*Roster, error) {
	hasRoll, hasName := false, false
	for _, h := range headers {
		switch h {
		case ColumnRoll:
			hasRoll = true
		case ColumnName:
			hasName = true
		}
	}
	if !hasRoll || !hasName {
		return nil, appErrors.Clone(appErrors.ErrValidation, "roster must include 'roll' and 'name' columns")
	}

	roster := &Roster{Students: make([]Student, 0, len(rows))}
	for i, row := range rows {
		roll, err := strconv.Atoi(strings.TrimSpace(row[ColumnRoll]))
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("row %d: roll %q is not an integer", i+1, row[ColumnRoll]))
		}
		roster.Students = append(roster.Students, Student{
			Roll:  roll,
			Name:  row[ColumnName],
			Batch: Classify(roll),
		})
	}
	return roster, nil
}

// RollsInBatch returns the rolls whose roster batch matches b, preserving
// roster order and duplicates.
func (r *Roster) RollsInBatch(b Batch) []int {
	if r == nil {
		return nil
	}
	rolls := make([]int, 0)
	for _, s := range r.Students {
		if s.Batch == b {
			rolls = append(rolls, s.Roll)
		}
	}
	return rolls
}

// BatchRollSet returns the set of rolls belonging to batch b.
func (r *Roster) BatchRollSet(b Batch) map[int]struct{} {
	set := make(map[int]struct{})
	if r == nil {
		return set
	}
	for _, s := range r.Students {
		if s.Batch == b {
			set[s.Roll] = struct{}{}
		}
	}
	return set
}
