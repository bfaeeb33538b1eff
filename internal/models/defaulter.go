package models

import "time"

// DefaulterRow is one student's snapshot line: roll, name and the computed
// attendance percentage at the time of the run.
type DefaulterRow struct {
	Roll       int     `json:"roll"`
	Name       string  `json:"name"`
	Percentage float64 `json:"attendance_percent"`
}

// DefaulterSnapshot is the persisted result of one defaulter computation.
// It replaces the previous snapshot for the same (account, type, batch) key
// wholesale; nothing is maintained incrementally.
type DefaulterSnapshot struct {
	Type       SessionKind    `json:"type"`
	Batch      Batch          `json:"batch,omitempty"`
	Threshold  float64        `json:"threshold"`
	Sessions   int            `json:"sessions"`
	Rows       []DefaulterRow `json:"rows"`
	ComputedAt time.Time      `json:"computed_at"`
}

// SnapshotKey derives the gateway batch key for a defaulter snapshot.
func SnapshotKey(kind SessionKind, batch Batch) string {
	if kind == SessionPractical {
		return "practical_" + string(batch)
	}
	return "class"
}
