package models

// TaskTypeDocumentProcess is the queue task type for the ingestion pipeline.
const TaskTypeDocumentProcess = "document:process"

// ProcessPayload is the immutable payload of a processing job. The document
// ID doubles as the job ID, so a document can have at most one waiting or
// active job at a time.
type ProcessPayload struct {
	DocumentID string `json:"documentId"`
	ObjectKey  string `json:"objectKey"`
	FileName   string `json:"fileName"`
}

// ProcessResult is written back to the queue when a job completes.
type ProcessResult struct {
	DocumentID string `json:"documentId"`
	PageCount  int    `json:"pageCount"`
	TextLength int    `json:"textLength"`
	DurationMS int64  `json:"durationMs"`
}
