package model

import "time"

// RetryStatus tracks where a FailureRecord sits in the retry lifecycle.
type RetryStatus string

const (
	RetryPending   RetryStatus = "pending"
	RetryRetrying  RetryStatus = "retrying"
	RetrySucceeded RetryStatus = "succeeded"
	RetryFailed    RetryStatus = "failed"
	RetryAbandoned RetryStatus = "abandoned"
)

// RetryAttempt records a single retry attempt's outcome.
type RetryAttempt struct {
	AttemptNumber int       `json:"attempt_number" bson:"attempt_number"`
	AttemptedAt   time.Time `json:"attempted_at" bson:"attempted_at"`
	Error         string    `json:"error,omitempty" bson:"error,omitempty"`
	Succeeded     bool      `json:"succeeded" bson:"succeeded"`
}

// FailureRecord is keyed by (code, section_id) and tracks one leaf's
// extraction failure and its subsequent retry history; there is one
// record per section, with each attempt_number kept in RetryAttempts
// rather than as a separate record. See §3 and §4.8.
type FailureRecord struct {
	Code          string         `json:"code" bson:"code"`
	SectionID     string         `json:"section_id" bson:"section_id"`
	URL           string         `json:"url" bson:"url"`
	FailureType   FailureType    `json:"failure_type" bson:"failure_type"`
	ErrorMessage  string         `json:"error_message" bson:"error_message"`
	Stage         Stage          `json:"stage" bson:"stage"`
	BatchNumber   int            `json:"batch_number" bson:"batch_number"`
	IsMultiVersion bool          `json:"is_multi_version" bson:"is_multi_version"`
	RetryStatus   RetryStatus    `json:"retry_status" bson:"retry_status"`
	RetryAttempts []RetryAttempt `json:"retry_attempts,omitempty" bson:"retry_attempts,omitempty"`
	FailedAt      time.Time      `json:"failed_at" bson:"failed_at"`
	ResolvedAt    *time.Time     `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
}

// Key returns the (code, section_id) composite key (attempt_number is
// tracked within RetryAttempts, not as a separate top-level key, since a
// FailureRecord accretes attempts rather than being replaced per-attempt).
func (r *FailureRecord) Key() string {
	return r.Code + "/" + r.SectionID
}

// AttemptCount returns how many retry attempts have been recorded.
func (r *FailureRecord) AttemptCount() int {
	return len(r.RetryAttempts)
}

// NextAttemptNumber returns the attempt_number for the next retry.
func (r *FailureRecord) NextAttemptNumber() int {
	return len(r.RetryAttempts) + 1
}

// MaxAttemptsReached reports whether this record has exhausted the
// configured retry budget.
func (r *FailureRecord) MaxAttemptsReached(maxAttempts int) bool {
	return len(r.RetryAttempts) >= maxAttempts
}

// RecordAttempt appends a retry attempt and updates status accordingly.
func (r *FailureRecord) RecordAttempt(err error) {
	now := time.Now()
	attempt := RetryAttempt{
		AttemptNumber: r.NextAttemptNumber(),
		AttemptedAt:   now,
		Succeeded:     err == nil,
	}
	if err != nil {
		attempt.Error = err.Error()
	}
	r.RetryAttempts = append(r.RetryAttempts, attempt)
	if err == nil {
		r.RetryStatus = RetrySucceeded
		r.ResolvedAt = &now
	} else {
		r.RetryStatus = RetryFailed
	}
}

// NewFailureRecord creates a fresh FailureRecord: pending for a retryable
// failure type, abandoned for a non-retryable one.
func NewFailureRecord(code, sectionID, url string, ft FailureType, stage Stage, batch int, errMsg string) *FailureRecord {
	status := RetryPending
	if !ft.Retryable() {
		status = RetryAbandoned
	}
	return &FailureRecord{
		Code:         code,
		SectionID:    sectionID,
		URL:          url,
		FailureType:  ft,
		ErrorMessage: errMsg,
		Stage:        stage,
		BatchNumber:  batch,
		RetryStatus:  status,
		FailedAt:     time.Now(),
	}
}
