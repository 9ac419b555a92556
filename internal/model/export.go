package model

import "time"

// Direction names the two conversion pipelines.
type Direction string

const (
	// DirectionExport converts a QTI package to a CSV table.
	DirectionExport Direction = "export"
	// DirectionImport converts a CSV table to a QTI package.
	DirectionImport Direction = "import"
)

// SkippedItem describes a QTI item that was left out of an export.
type SkippedItem struct {
	Position int    `json:"position"` // 1-based position in the document
	Ident    string `json:"ident"`
	Title    string `json:"title"`
	Reason   string `json:"reason"`
}

// ConversionRun is one completed conversion, as recorded in the history.
type ConversionRun struct {
	ID          int64         `json:"id"`
	Direction   Direction     `json:"direction"`
	Source      string        `json:"source"`
	SourceHash  string        `json:"source_hash"`
	Output      string        `json:"output"`
	OutputSize  int64         `json:"output_size"`
	Questions   int           `json:"questions"`
	TotalPoints float64       `json:"total_points"`
	Skipped     []SkippedItem `json:"skipped,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
