package models

import "time"

// BatchState is a stage in a batch's lifecycle
type BatchState string

const (
	BatchPending         BatchState = "PENDING"
	BatchInProgress      BatchState = "IN_PROGRESS"
	BatchCompleted       BatchState = "COMPLETED"
	BatchPartiallyFailed BatchState = "PARTIALLY_FAILED"
	BatchRejected        BatchState = "REJECTED"
)

// Terminal reports whether the batch will not change state again
func (s BatchState) Terminal() bool {
	switch s {
	case BatchCompleted, BatchPartiallyFailed, BatchRejected:
		return true
	}
	return false
}

// Batch is one trash or restore request against a single account
type Batch struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	Operation  AuditOperation  `json:"operation"`
	MessageIDs []string        `json:"message_ids"`
	State      BatchState      `json:"state"`
	Result     *DeletionResult `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
