package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/maildash/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "data", "maildash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate(context.Background()))
}

func TestAppendAndListAudit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &models.AuditLogEntry{
		AccountID:  "gmail-1",
		BatchID:    "b1",
		Operation:  models.AuditTrash,
		MessageIDs: `["m1","m2"]`,
		Outcome:    "COMPLETED",
		Succeeded:  2,
	}
	second := &models.AuditLogEntry{
		AccountID:  "yahoo-1",
		BatchID:    "b2",
		Operation:  models.AuditTrash,
		MessageIDs: `["7"]`,
		Outcome:    "PARTIALLY_FAILED",
		Failed:     1,
		Detail:     `[{"id":"7","reason":"no such message"}]`,
	}
	require.NoError(t, db.AppendAudit(ctx, first))
	require.NoError(t, db.AppendAudit(ctx, second))
	assert.NotZero(t, first.ID)
	assert.Greater(t, second.ID, first.ID)

	all, err := db.ListAudit(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b2", all[0].BatchID, "newest first")
	assert.Equal(t, models.AuditTrash, all[1].Operation)
	assert.Equal(t, "[]", all[1].Detail)
	assert.False(t, all[1].Timestamp.IsZero())

	yahoo, err := db.ListAudit(ctx, "yahoo-1", 10)
	require.NoError(t, err)
	require.Len(t, yahoo, 1)
	assert.Equal(t, 1, yahoo[0].Failed)

	batch, err := db.AuditForBatch(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, `["m1","m2"]`, batch[0].MessageIDs)
}

func TestAuditLogIsAppendOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	entry := &models.AuditLogEntry{AccountID: "a", BatchID: "b", Operation: models.AuditTrash, MessageIDs: "[]", Outcome: "COMPLETED"}
	require.NoError(t, db.AppendAudit(ctx, entry))

	_, err := db.ExecContext(ctx, `UPDATE audit_log SET outcome = 'X' WHERE id = ?`, entry.ID)
	assert.Error(t, err)

	_, err = db.ExecContext(ctx, `DELETE FROM audit_log WHERE id = ?`, entry.ID)
	assert.Error(t, err)
}

func TestVaultSecrets(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetSecret(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.PutSecret(ctx, "yahoo", "cipher-1"))
	require.NoError(t, db.PutSecret(ctx, "yahoo", "cipher-2"))

	got, err := db.GetSecret(ctx, "yahoo")
	require.NoError(t, err)
	assert.Equal(t, "cipher-2", got)

	require.NoError(t, db.DeleteSecret(ctx, "yahoo"))
	_, err = db.GetSecret(ctx, "yahoo")
	assert.ErrorIs(t, err, ErrNotFound)
}
