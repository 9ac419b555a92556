// Package convert wires the QTI and table packages into the two conversion
// pipelines. Both return complete output bytes or an error; nothing is
// written until the whole input has been transformed.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/pavelanni/qticsv/internal/archive"
	"github.com/pavelanni/qticsv/internal/model"
	"github.com/pavelanni/qticsv/internal/qti"
	"github.com/pavelanni/qticsv/internal/table"
)

// ExportOptions controls QTI package -> CSV conversion.
type ExportOptions struct {
	Lang      string
	BOM       bool
	PlainText bool
}

// ExportResult is a finished export.
type ExportResult struct {
	Title   string
	Entry   string // archive entry the items were read from
	Rows    []model.Row
	Skipped []qti.SkippedItemError
	CSV     []byte
}

// TotalPoints sums the point values of the exported rows.
func (r *ExportResult) TotalPoints() float64 {
	return totalPoints(r.Rows)
}

// SkippedItems converts the skip diagnostics for reporting and storage.
func (r *ExportResult) SkippedItems() []model.SkippedItem {
	out := make([]model.SkippedItem, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		out = append(out, model.SkippedItem{Position: s.Position, Ident: s.Ident, Title: s.Title, Reason: s.Reason})
	}
	return out
}

// Export turns a zipped QTI package into a CSV table.
func Export(ctx context.Context, zipData []byte, opts ExportOptions) (*ExportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	zr, err := archive.Open(zipData)
	if err != nil {
		return nil, err
	}
	entry, doc, err := zr.FindAssessment()
	if err != nil {
		return nil, err
	}
	return ExportDocument(ctx, entry, doc, opts)
}

// ExportDocument converts a bare assessment document, already extracted.
func ExportDocument(ctx context.Context, entry string, doc []byte, opts ExportOptions) (*ExportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parsed, err := qti.Parse(bytes.NewReader(doc), qti.ParseOptions{PlainText: opts.PlainText})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", entry, err)
	}

	var buf bytes.Buffer
	if err := table.Write(&buf, parsed.Rows, table.WriteOptions{Lang: opts.Lang, BOM: opts.BOM}); err != nil {
		return nil, fmt.Errorf("write table: %w", err)
	}

	slog.Info("exported questions",
		"entry", entry,
		"title", parsed.Title,
		"questions", len(parsed.Rows),
		"skipped", len(parsed.Skipped),
	)
	return &ExportResult{
		Title:   parsed.Title,
		Entry:   entry,
		Rows:    parsed.Rows,
		Skipped: parsed.Skipped,
		CSV:     buf.Bytes(),
	}, nil
}

// ImportOptions controls CSV -> QTI package conversion.
type ImportOptions struct {
	Title    string
	QuizType string
}

// ImportResult is a finished import.
type ImportResult struct {
	Package *qti.Package
	Rows    []model.Row
	Zip     []byte
}

// Import reads a CSV table and builds a zipped QTI package from it.
func Import(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := table.Read(r)
	if err != nil {
		return nil, err
	}

	pkg, err := qti.Generate(rows, qti.GenerateOptions{Title: opts.Title, QuizType: opts.QuizType})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := archive.Write(&buf, pkg.Files); err != nil {
		return nil, fmt.Errorf("write package: %w", err)
	}

	slog.Info("imported questions",
		"title", pkg.Title,
		"questions", len(rows),
		"total_points", pkg.TotalPoints,
	)
	return &ImportResult{Package: pkg, Rows: rows, Zip: buf.Bytes()}, nil
}

func totalPoints(rows []model.Row) float64 {
	var total float64
	for _, r := range rows {
		total += r.Points
	}
	return total
}
