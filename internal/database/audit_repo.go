package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mixelka/maildash/pkg/models"
)

// DefaultAuditLimit caps ListAudit when no limit is given
const DefaultAuditLimit = 100

// AppendAudit appends an entry to the audit log. Entries are never updated.
func (db *DB) AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error {
	query := `
		INSERT INTO audit_log (account_id, batch_id, operation, message_ids, outcome, succeeded, failed, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Detail == "" {
		entry.Detail = "[]"
	}

	result, err := db.ExecContext(ctx, query,
		entry.AccountID,
		entry.BatchID,
		entry.Operation,
		entry.MessageIDs,
		entry.Outcome,
		entry.Succeeded,
		entry.Failed,
		entry.Detail,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAudit returns audit entries newest first, optionally for one account
func (db *DB) ListAudit(ctx context.Context, accountID string, limit int) ([]*models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	var entries []*models.AuditLogEntry
	var err error
	if accountID == "" {
		query := `SELECT * FROM audit_log ORDER BY id DESC LIMIT ?`
		err = db.SelectContext(ctx, &entries, query, limit)
	} else {
		query := `SELECT * FROM audit_log WHERE account_id = ? ORDER BY id DESC LIMIT ?`
		err = db.SelectContext(ctx, &entries, query, accountID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// AuditForBatch returns every entry recorded for a batch, oldest first
func (db *DB) AuditForBatch(ctx context.Context, batchID string) ([]*models.AuditLogEntry, error) {
	var entries []*models.AuditLogEntry
	query := `SELECT * FROM audit_log WHERE batch_id = ? ORDER BY id ASC`
	if err := db.SelectContext(ctx, &entries, query, batchID); err != nil {
		return nil, fmt.Errorf("failed to get batch audit entries: %w", err)
	}
	return entries, nil
}
