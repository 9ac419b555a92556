package i18n

import (
	"context"

	"github.com/pavelanni/qticsv/internal/model"
)

// ColumnHeaders returns the localized header row for the table layout.
func ColumnHeaders(ctx context.Context) []string {
	return columnText(ctx, "")
}

// ColumnDescriptions returns the localized description row.
func ColumnDescriptions(ctx context.Context) []string {
	return columnText(ctx, "Desc")
}

func columnText(ctx context.Context, suffix string) []string {
	out := make([]string, model.NumColumns)
	for i, c := range model.Columns {
		id := c.MessageID + suffix
		if c.Number > 0 {
			out[i] = Td(ctx, id, map[string]any{"Number": c.Number})
		} else {
			out[i] = T(ctx, id)
		}
	}
	return out
}
