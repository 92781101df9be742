// Package deletion runs trash and restore batches against one account at a
// time and records every terminal batch in the audit log.
package deletion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mixelka/maildash/internal/connector"
	"github.com/mixelka/maildash/internal/mailerr"
	"github.com/mixelka/maildash/pkg/models"
)

// maxRetained bounds how many finished batches Get serves from memory.
// Older batches are rebuilt from the audit log.
const maxRetained = 1000

// Executor runs fn with an account's connector, serialized per account and
// without an operation deadline
type Executor interface {
	DoBatch(ctx context.Context, accountID string, fn func(ctx context.Context, conn connector.Connector) error) error
}

// Accounts looks accounts up by id
type Accounts interface {
	Get(id string) (models.Account, bool)
}

// AuditLog is the append-only batch record
type AuditLog interface {
	AppendAudit(ctx context.Context, entry *models.AuditLogEntry) error
	AuditForBatch(ctx context.Context, batchID string) ([]*models.AuditLogEntry, error)
}

// Coordinator drives batches through PENDING, IN_PROGRESS and a terminal state
type Coordinator struct {
	exec     Executor
	accounts Accounts
	audit    AuditLog
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	batches    map[string]*models.Batch
	order      []string
	onComplete []func(models.Batch)
}

// NewCoordinator creates a coordinator
func NewCoordinator(exec Executor, accounts Accounts, audit AuditLog, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		exec:     exec,
		accounts: accounts,
		audit:    audit,
		logger:   logger.With("component", "deletion"),
		now:      func() time.Time { return time.Now().UTC() },
		batches:  make(map[string]*models.Batch),
	}
}

// OnComplete registers a hook called with every terminal batch
func (c *Coordinator) OnComplete(fn func(models.Batch)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = append(c.onComplete, fn)
}

// Trash moves ids of one account to the provider's trash. The returned
// batch is terminal. A non-nil error means the batch was rejected before
// anything was dispatched.
func (c *Coordinator) Trash(ctx context.Context, accountID string, ids []string) (models.Batch, error) {
	return c.run(ctx, models.AuditTrash, accountID, ids, func(ctx context.Context, conn connector.Connector, ids []string) models.DeletionResult {
		return conn.BatchTrash(ctx, ids)
	})
}

// Restore undoes Trash for ids of one account, one message at a time
func (c *Coordinator) Restore(ctx context.Context, accountID string, ids []string) (models.Batch, error) {
	return c.run(ctx, models.AuditRestore, accountID, ids, func(ctx context.Context, conn connector.Connector, ids []string) models.DeletionResult {
		result := models.DeletionResult{SucceededIDs: []string{}, Failed: []models.FailedItem{}}
		for _, id := range ids {
			if err := conn.Restore(ctx, id); err != nil {
				result.Failed = append(result.Failed, models.FailedItem{ID: id, Reason: err.Error(), Kind: mailerr.Kind(err)})
				continue
			}
			result.SucceededIDs = append(result.SucceededIDs, id)
		}
		return result
	})
}

type mutation func(ctx context.Context, conn connector.Connector, ids []string) models.DeletionResult

func (c *Coordinator) run(ctx context.Context, op models.AuditOperation, accountID string, ids []string, mutate mutation) (models.Batch, error) {
	// A started batch runs to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	batch := &models.Batch{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Operation:  op,
		MessageIDs: normalizeIDs(ids),
		State:      models.BatchPending,
		CreatedAt:  c.now(),
	}
	c.store(batch)
	logger := c.logger.With("batch_id", batch.ID, "account_id", accountID, "operation", op)

	if err := c.validate(batch); err != nil {
		logger.Warn("batch rejected", "error", err)
		c.reject(ctx, batch, err)
		return c.snapshot(batch), err
	}

	c.setState(batch, models.BatchInProgress)
	logger.Info("batch started", "count", len(batch.MessageIDs))

	var (
		result     models.DeletionResult
		dispatched bool
	)
	err := c.exec.DoBatch(ctx, accountID, func(ctx context.Context, conn connector.Connector) error {
		result = mutate(ctx, conn, batch.MessageIDs)
		dispatched = true
		return c.refused(accountID, result)
	})
	if err != nil {
		if mailerr.IsValidation(err) {
			logger.Warn("batch rejected", "error", err)
			c.reject(ctx, batch, err)
			return c.snapshot(batch), err
		}
		if !dispatched {
			// The account could not be reached
			result = failAll(batch.MessageIDs, err)
		}
		c.mu.Lock()
		batch.Error = err.Error()
		batch.ErrorKind = mailerr.Kind(err)
		c.mu.Unlock()
	}

	c.finish(ctx, batch, result)
	logger.Info("batch finished", "state", batch.State, "succeeded", len(result.SucceededIDs), "failed", len(result.Failed))
	return c.snapshot(batch), nil
}

func (c *Coordinator) validate(batch *models.Batch) error {
	if strings.TrimSpace(batch.AccountID) == "" {
		return mailerr.Validation("account_id", "must not be empty")
	}
	if len(batch.MessageIDs) == 0 {
		return mailerr.Validation("message_ids", "must contain at least one id")
	}
	acc, ok := c.accounts.Get(batch.AccountID)
	if !ok {
		return mailerr.Validation("account_id", "unknown account %q", batch.AccountID)
	}
	if !acc.Enabled {
		return mailerr.Validation("account_id", "account %q is disabled: %s", batch.AccountID, acc.DisabledReason)
	}
	return nil
}

// normalizeIDs trims ids and drops blanks and duplicates, keeping the
// first occurrence
func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// refused returns an AuthError when every id failed on credentials, so the
// executor treats the session as unusable
func (c *Coordinator) refused(accountID string, result models.DeletionResult) error {
	if !result.AllFailed() {
		return nil
	}
	for _, f := range result.Failed {
		if f.Kind != "auth" {
			return nil
		}
	}
	acc, _ := c.accounts.Get(accountID)
	return &mailerr.AuthError{Provider: string(acc.Provider), Account: accountID, Err: errors.New(result.Failed[0].Reason)}
}

func failAll(ids []string, err error) models.DeletionResult {
	result := models.DeletionResult{SucceededIDs: []string{}, Failed: make([]models.FailedItem, 0, len(ids))}
	for _, id := range ids {
		result.Failed = append(result.Failed, models.FailedItem{ID: id, Reason: err.Error(), Kind: mailerr.Kind(err)})
	}
	return result
}

func (c *Coordinator) reject(ctx context.Context, batch *models.Batch, err error) {
	c.mu.Lock()
	batch.Error = err.Error()
	batch.ErrorKind = mailerr.Kind(err)
	c.mu.Unlock()
	c.finish(ctx, batch, models.DeletionResult{SucceededIDs: []string{}, Failed: []models.FailedItem{}})
}

// finish moves the batch to its terminal state, records it and runs hooks
func (c *Coordinator) finish(ctx context.Context, batch *models.Batch, result models.DeletionResult) {
	state := models.BatchCompleted
	switch {
	case batch.State == models.BatchPending:
		state = models.BatchRejected
	case len(result.Failed) > 0:
		state = models.BatchPartiallyFailed
	}

	finished := c.now()
	c.mu.Lock()
	batch.State = state
	batch.Result = &result
	batch.FinishedAt = &finished
	hooks := slices.Clone(c.onComplete)
	c.mu.Unlock()

	if err := c.record(ctx, batch, result); err != nil {
		c.logger.Error("failed to record audit entry", "batch_id", batch.ID, "error", err)
	}

	snap := c.snapshot(batch)
	for _, fn := range hooks {
		fn(snap)
	}
}

func (c *Coordinator) record(ctx context.Context, batch *models.Batch, result models.DeletionResult) error {
	ids, err := json.Marshal(batch.MessageIDs)
	if err != nil {
		return fmt.Errorf("failed to encode message ids: %w", err)
	}

	failed := result.Failed
	if batch.State == models.BatchRejected {
		failed = []models.FailedItem{{Reason: batch.Error, Kind: batch.ErrorKind}}
	}
	detail, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("failed to encode failures: %w", err)
	}

	return c.audit.AppendAudit(ctx, &models.AuditLogEntry{
		Timestamp:  *batch.FinishedAt,
		AccountID:  batch.AccountID,
		BatchID:    batch.ID,
		Operation:  batch.Operation,
		MessageIDs: string(ids),
		Outcome:    string(batch.State),
		Succeeded:  len(result.SucceededIDs),
		Failed:     len(result.Failed),
		Detail:     string(detail),
	})
}

func (c *Coordinator) store(batch *models.Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.batches[batch.ID] = batch
	c.order = append(c.order, batch.ID)
	for len(c.order) > maxRetained {
		oldest := c.batches[c.order[0]]
		if oldest != nil && !oldest.State.Terminal() {
			break
		}
		delete(c.batches, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *Coordinator) setState(batch *models.Batch, state models.BatchState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch.State = state
}

func (c *Coordinator) snapshot(batch *models.Batch) models.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := *batch
	snap.MessageIDs = slices.Clone(batch.MessageIDs)
	if batch.Result != nil {
		r := models.DeletionResult{
			SucceededIDs: slices.Clone(batch.Result.SucceededIDs),
			Failed:       slices.Clone(batch.Result.Failed),
		}
		snap.Result = &r
	}
	return snap
}

// Get returns a batch by id. Batches no longer held in memory are rebuilt
// from the audit log.
func (c *Coordinator) Get(ctx context.Context, id string) (models.Batch, bool, error) {
	c.mu.Lock()
	batch, ok := c.batches[id]
	c.mu.Unlock()
	if ok {
		return c.snapshot(batch), true, nil
	}

	entries, err := c.audit.AuditForBatch(ctx, id)
	if err != nil {
		return models.Batch{}, false, err
	}
	if len(entries) == 0 {
		return models.Batch{}, false, nil
	}
	b, err := fromAudit(entries[len(entries)-1])
	if err != nil {
		return models.Batch{}, false, err
	}
	return b, true, nil
}

func fromAudit(e *models.AuditLogEntry) (models.Batch, error) {
	var ids []string
	if err := json.Unmarshal([]byte(e.MessageIDs), &ids); err != nil {
		return models.Batch{}, fmt.Errorf("failed to decode message ids: %w", err)
	}
	var failed []models.FailedItem
	if err := json.Unmarshal([]byte(e.Detail), &failed); err != nil {
		return models.Batch{}, fmt.Errorf("failed to decode failures: %w", err)
	}

	finished := e.Timestamp
	b := models.Batch{
		ID:         e.BatchID,
		AccountID:  e.AccountID,
		Operation:  e.Operation,
		MessageIDs: ids,
		State:      models.BatchState(e.Outcome),
		FinishedAt: &finished,
	}

	if b.State == models.BatchRejected {
		if len(failed) > 0 {
			b.Error = failed[0].Reason
			b.ErrorKind = failed[0].Kind
		}
		b.Result = &models.DeletionResult{SucceededIDs: []string{}, Failed: []models.FailedItem{}}
		return b, nil
	}

	failedIDs := make(map[string]bool, len(failed))
	for _, f := range failed {
		failedIDs[f.ID] = true
	}
	result := models.DeletionResult{SucceededIDs: []string{}, Failed: failed}
	for _, id := range ids {
		if !failedIDs[id] {
			result.SucceededIDs = append(result.SucceededIDs, id)
		}
	}
	b.Result = &result
	return b, nil
}
