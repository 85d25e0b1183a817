package models

import (
	"time"
)

// Metadata keys written by the ingestion pipeline. The metadata map is
// open-ended; these are the keys the system itself owns.
const (
	MetaObjectKey   = "object_key"
	MetaObjectURL   = "object_url"
	MetaPageCount   = "pageCount"
	MetaExtractedAt = "extractedAt"
	MetaPDFInfo     = "pdfMetadata"
)

// Document is the durable record of an uploaded file and its extraction
// state. Name, Size and MimeType are fixed at creation; Status,
// ErrorMessage, ExtractedText and Metadata are owned by the worker after
// submission.
//
// Invariants: ExtractedText is non-empty iff Status is StatusReady, and
// ErrorMessage is non-empty only when Status is StatusError.
type Document struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Size          int64            `json:"size"`
	MimeType      string           `json:"type"`
	Status        ProcessingStatus `json:"processing_status"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	ExtractedText string           `json:"extracted_text,omitempty"`
	Metadata      map[string]any   `json:"metadata"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// DocumentUpdate is a partial record: nil fields are left untouched by the
// store. A non-nil Metadata map is merged key-by-key into the existing
// metadata, never replacing it wholesale. Setting ErrorMessage to an empty
// string clears the stored message.
type DocumentUpdate struct {
	Status        *ProcessingStatus
	ErrorMessage  *string
	ExtractedText *string
	Metadata      map[string]any
}

// IsZero reports whether the update would change nothing.
func (u DocumentUpdate) IsZero() bool {
	return u.Status == nil && u.ErrorMessage == nil && u.ExtractedText == nil && u.Metadata == nil
}
