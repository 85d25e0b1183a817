// Package extractor turns raw file bytes into plain text plus document
// metadata. Failures carry a code so the worker can tell a broken file
// (never retry) from a parser hiccup (retry).
package extractor

import (
	"context"
	"fmt"
	"time"
)

// Code classifies an extraction failure.
type Code string

const (
	CodeInvalidFile       Code = "invalid_file"
	CodeCorrupted         Code = "corrupted"
	CodePasswordProtected Code = "password_protected"
	CodeParseError        Code = "parse_error"
	CodeNoText            Code = "no_text"
)

// ExtractionError is a typed extraction failure.
type ExtractionError struct {
	Code Code
	msg  string
}

func NewExtractionError(code Code, format string, args ...any) *ExtractionError {
	return &ExtractionError{Code: code, msg: fmt.Sprintf(format, args...)}
}

func (e *ExtractionError) Error() string {
	return e.msg
}

// Terminal reports whether retrying could ever change the outcome. A parse
// error may be a parser bug or resource issue and stays retryable; the
// content-level codes are final.
func (e *ExtractionError) Terminal() bool {
	return e.Code != CodeParseError
}

// Metadata is what the file format reports about itself.
type Metadata struct {
	Title     string    `json:"title,omitempty"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"creationDate,omitempty"`
	FileSize  int64     `json:"fileSize"`
}

// Result is a successful extraction.
type Result struct {
	Text      string
	PageCount int
	Metadata  Metadata
}

// Extractor is the adapter contract the worker consumes.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (*Result, error)
}
