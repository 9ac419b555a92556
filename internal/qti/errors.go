package qti

import (
	"errors"
	"fmt"
)

// DocumentParseError means the assessment document is not well-formed XML.
// It aborts the whole conversion.
type DocumentParseError struct {
	Err error
}

func (e *DocumentParseError) Error() string {
	return fmt.Sprintf("parse assessment document: %v", e.Err)
}

func (e *DocumentParseError) Unwrap() error { return e.Err }

// SkippedItemError describes an item that lacks required structure. The parser
// collects these and carries on with the remaining items.
type SkippedItemError struct {
	Position int // 1-based position among the document's items
	Ident    string
	Title    string
	Reason   string
}

func (e SkippedItemError) Error() string {
	return fmt.Sprintf("item %d (%s %q) skipped: %s", e.Position, e.Ident, e.Title, e.Reason)
}

// InvalidRowError means a row cannot be turned into a valid item. Generation
// stops at the first one because a partial package would not import cleanly.
type InvalidRowError struct {
	Row    int // 1-based data row
	Field  string
	Reason string
}

func (e *InvalidRowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("invalid row %d: %s %s", e.Row, e.Field, e.Reason)
}

// IsFatal reports whether err must abort a conversion. Only skipped items are
// recoverable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var skipped SkippedItemError
	if errors.As(err, &skipped) {
		return false
	}
	var skippedPtr *SkippedItemError
	return !errors.As(err, &skippedPtr)
}
