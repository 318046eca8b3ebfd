package resilience

import (
	"time"

	"github.com/google/uuid"
)

// Error classes recorded on dead-letter entries.
const (
	ErrorTransient = "transient"
	ErrorPermanent = "permanent"
)

// DLQEntry records a document whose extraction was exhausted so it can be retried later.
type DLQEntry struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	UserID       string    `json:"user_id"`
	FileURL      string    `json:"file_url"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"`
	ErrorKinds   []string  `json:"error_kinds,omitempty"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQFilter narrows a dead-letter listing.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// NewDLQEntry builds a first-failure entry. Permanent failures get no retries.
func NewDLQEntry(documentID, userID, fileURL string, err error, kinds []string, maxRetries int, now time.Time) DLQEntry {
	e := DLQEntry{
		ID:           uuid.NewString(),
		DocumentID:   documentID,
		UserID:       userID,
		FileURL:      fileURL,
		Error:        err.Error(),
		ErrorType:    ClassifyError(err),
		ErrorKinds:   kinds,
		MaxRetries:   maxRetries,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if e.ErrorType == ErrorPermanent {
		e.MaxRetries = 0
	}
	e.NextRetryAt = now.Add(retryDelay(0))
	return e
}

// CanRetry reports whether the entry still has retries left.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// MarkRetried bumps the retry count and schedules the next attempt.
func (e *DLQEntry) MarkRetried(err error, now time.Time) {
	e.RetryCount++
	e.Error = err.Error()
	e.LastFailedAt = now
	e.NextRetryAt = now.Add(retryDelay(e.RetryCount))
}

// ClassifyError returns ErrorTransient or ErrorPermanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTransient
	}
	return ErrorPermanent
}

// retryDelay doubles from five minutes, capped at six hours.
func retryDelay(retries int) time.Duration {
	d := 5 * time.Minute
	for i := 0; i < retries && d < 6*time.Hour; i++ {
		d *= 2
	}
	if d > 6*time.Hour {
		d = 6 * time.Hour
	}
	return d
}
