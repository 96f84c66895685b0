package registry

import (
	"fmt"
	"strconv"
	"time"
)

// Status is the lifecycle state of an article record.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDuplicate  Status = "duplicate"
	StatusSkipped    Status = "skipped"
)

// Terminal reports whether the status ends the record's lifecycle.
// Failed is semi-terminal: a later run may move it back to retrying.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDuplicate, StatusSkipped:
		return true
	}
	return false
}

// Location identifies a record in another partition.
type Location struct {
	Partition string `json:"partition"`
	Identity  int    `json:"identity"`
}

func (l Location) String() string {
	return l.Partition + "/" + FormatIdentity(l.Identity)
}

// Record is one article's registry entry. The status determines which of
// the optional fields are populated; the Mark* methods are the only
// writers and clear everything the target state does not carry.
type Record struct {
	SourceLocator string    `json:"url"`
	Status        Status    `json:"status"`
	RetryCount    int       `json:"retry_count,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	SkippedAt   *time.Time `json:"skipped_at,omitempty"`
	DuplicateOf *Location  `json:"duplicate_of,omitempty"`
}

// NewRecord creates a fresh processing record for a normalized locator.
func NewRecord(locator string, now time.Time) *Record {
	return &Record{
		SourceLocator: locator,
		Status:        StatusProcessing,
		CreatedAt:     now.UTC(),
	}
}

// MarkRetrying reuses the record for another attempt, preserving the
// previous error for diagnosis and bumping the retry counter.
func (r *Record) MarkRetrying() {
	r.RetryCount++
	r.Status = StatusRetrying
	r.CompletedAt = nil
	r.FailedAt = nil
	r.SkippedAt = nil
	r.DuplicateOf = nil
}

// MarkCompleted finalizes the record as successfully processed.
func (r *Record) MarkCompleted(now time.Time) {
	t := now.UTC()
	r.Status = StatusCompleted
	r.LastError = ""
	r.CompletedAt = &t
	r.FailedAt = nil
	r.SkippedAt = nil
	r.DuplicateOf = nil
}

// MarkFailed records a semi-terminal failure with its cause.
func (r *Record) MarkFailed(cause string, now time.Time) {
	t := now.UTC()
	r.Status = StatusFailed
	r.LastError = cause
	r.FailedAt = &t
	r.CompletedAt = nil
	r.SkippedAt = nil
	r.DuplicateOf = nil
}

// MarkSkipped finalizes the record as deliberately not processed.
func (r *Record) MarkSkipped(now time.Time) {
	t := now.UTC()
	r.Status = StatusSkipped
	r.SkippedAt = &t
	r.CompletedAt = nil
	r.FailedAt = nil
	r.DuplicateOf = nil
}

// MarkDuplicate finalizes the record as completed elsewhere.
func (r *Record) MarkDuplicate(of Location, now time.Time) {
	t := now.UTC()
	r.Status = StatusDuplicate
	r.DuplicateOf = &of
	r.SkippedAt = &t
	r.CompletedAt = nil
	r.FailedAt = nil
	r.LastError = ""
}

// FormatIdentity renders an identity in its zero-padded presentation form
// ("01"). Identities above 99 widen naturally.
func FormatIdentity(identity int) string {
	return fmt.Sprintf("%02d", identity)
}

// ParseIdentity accepts both padded ("07") and unpadded ("7") forms.
func ParseIdentity(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("registry: bad identity %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("registry: bad identity %q: must be positive", s)
	}
	return n, nil
}
