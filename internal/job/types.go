package job

import "time"

type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

type ErrKind string

const (
	ErrValidation       ErrKind = "ValidationError"
	ErrStoreUnavailable ErrKind = "StoreUnavailable"
	ErrToolFailure      ErrKind = "ToolFailure"
	ErrTimeout          ErrKind = "Timeout"
	ErrCancelled        ErrKind = "Cancelled"
	ErrStorageFailure   ErrKind = "StorageFailure"
)

// Request is the sanitized submission snapshot persisted with the record.
// Cookie is the raw cookie file content handed to the fetch tool; it is
// never echoed back to clients or written to logs.
type Request struct {
	URL         string            `json:"url"`
	Format      string            `json:"format,omitempty"`
	PreferAudio bool              `json:"preferAudio,omitempty"`
	Filename    string            `json:"filename,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Proxy       string            `json:"proxy,omitempty"`
	Cookie      string            `json:"cookie,omitempty"`
}

// Result is recorded once the artifact has been handed to storage.
// Locator is internal and stripped before anything client-facing;
// DownloadURL is the inverse, filled in only by the API layer when it
// signs a fresh token and never persisted.
type Result struct {
	Mime        string `json:"mime"`
	FileName    string `json:"fileName"`
	SizeBytes   int64  `json:"sizeBytes"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Locator     string `json:"locator,omitempty"`
}

// Public returns a copy safe to expose to clients.
func (r Result) Public() Result {
	r.Locator = ""
	return r
}

type Error struct {
	Kind    ErrKind `json:"kind"`
	Message string  `json:"message"`
}

// Record is the durable job state shared between the API and worker tiers.
// Exactly one of Result/Error is set once Status is terminal.
type Record struct {
	ID        string
	Status    Status
	Progress  int
	Request   Request
	Result    *Result
	Error     *Error
	CreatedAt time.Time
	UpdatedAt time.Time
}
