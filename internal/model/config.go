package model

// ConvertConfig holds conversion parameters set via CLI flags or config file.
type ConvertConfig struct {
	Lang      string // language of the CSV header and description rows
	BOM       bool   // prefix written CSV with a UTF-8 byte order mark
	PlainText bool   // strip HTML from text fields on export
	QuizType  string // Canvas quiz type written on import
	MaxUpload int64  // largest accepted upload in bytes (serve only)
}
