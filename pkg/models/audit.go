package models

import "time"

// AuditOperation names a mutation recorded in the audit log
type AuditOperation string

const (
	AuditTrash   AuditOperation = "trash"
	AuditRestore AuditOperation = "restore"
)

// AuditLogEntry is one append-only audit record
type AuditLogEntry struct {
	ID         int64          `db:"id" json:"id"`
	Timestamp  time.Time      `db:"created_at" json:"timestamp"`
	AccountID  string         `db:"account_id" json:"account_id"`
	BatchID    string         `db:"batch_id" json:"batch_id"`
	Operation  AuditOperation `db:"operation" json:"operation"`
	MessageIDs string         `db:"message_ids" json:"message_ids"` // JSON array
	Outcome    string         `db:"outcome" json:"outcome"`         // terminal batch state
	Succeeded  int            `db:"succeeded" json:"succeeded"`
	Failed     int            `db:"failed" json:"failed"`
	Detail     string         `db:"detail" json:"detail,omitempty"` // JSON array of FailedItem
}
