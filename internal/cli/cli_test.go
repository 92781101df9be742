package cli

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/maildash/internal/credential"
	"github.com/mixelka/maildash/internal/database"
	"github.com/mixelka/maildash/internal/manager"
	"github.com/mixelka/maildash/pkg/models"
)

const testVaultKey = "0123456789abcdef0123456789abcdef"

func setupEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "maildash.db")
	t.Setenv("DATABASE_PATH", path)
	t.Setenv("VAULT_KEY", testVaultKey)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func openTestDB(t *testing.T, path string) *database.DB {
	t.Helper()
	db, err := database.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&buf, "info", "json")
	logger.Info("hello", "account", "gmail-1")
	assert.Contains(t, buf.String(), `"account":"gmail-1"`)

	buf.Reset()
	logger.Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestVaultSetFromStdin(t *testing.T) {
	path := setupEnv(t)

	out, err := execute(t, "s3cret\n", "vault", "set", "yahoo-password")
	require.NoError(t, err)
	assert.Contains(t, out, "stored vault:yahoo-password")

	db := openTestDB(t, path)
	vault, err := credential.NewVaultBackend(db, testVaultKey)
	require.NoError(t, err)
	got, err := vault.Get(context.Background(), "yahoo-password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)
}

func TestVaultSetFlagOverwrites(t *testing.T) {
	path := setupEnv(t)

	_, err := execute(t, "", "vault", "set", "k", "--value", "first")
	require.NoError(t, err)
	_, err = execute(t, "", "vault", "set", "k", "--value", "second")
	require.NoError(t, err)

	db := openTestDB(t, path)
	vault, err := credential.NewVaultBackend(db, testVaultKey)
	require.NoError(t, err)
	got, err := vault.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestVaultSetRequiresKey(t *testing.T) {
	setupEnv(t)
	t.Setenv("VAULT_KEY", "")

	_, err := execute(t, "", "vault", "set", "k", "--value", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VAULT_KEY")
}

func TestVaultSetRejectsEmpty(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "\n", "vault", "set", "k")
	require.Error(t, err)
}

func TestAuditCommand(t *testing.T) {
	path := setupEnv(t)
	db := openTestDB(t, path)
	ctx := context.Background()
	require.NoError(t, db.AppendAudit(ctx, &models.AuditLogEntry{
		AccountID: "gmail-1", BatchID: "batch-a", Operation: models.AuditTrash,
		MessageIDs: `["m1"]`, Outcome: "COMPLETED", Succeeded: 1,
	}))
	require.NoError(t, db.AppendAudit(ctx, &models.AuditLogEntry{
		AccountID: "yahoo-1", BatchID: "batch-b", Operation: models.AuditRestore,
		MessageIDs: `["7"]`, Outcome: "PARTIALLY_FAILED", Failed: 1,
	}))

	out, err := execute(t, "", "audit")
	require.NoError(t, err)
	assert.Contains(t, out, "batch-a")
	assert.Contains(t, out, "batch-b")

	out, err = execute(t, "", "audit", "--account", "yahoo-1")
	require.NoError(t, err)
	assert.NotContains(t, out, "batch-a")
	assert.Contains(t, out, "PARTIALLY_FAILED")
}

func TestDigestRequiresTelegram(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "", "digest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}

func TestPrintUnread(t *testing.T) {
	three := 3
	var buf bytes.Buffer
	printUnread(&buf, manager.UnreadCountResult{
		PerAccount: map[string]manager.UnreadCount{
			"gmail-1": {Account: models.Account{ID: "gmail-1"}, Count: &three},
			"yahoo-1": {Account: models.Account{ID: "yahoo-1"}, Error: assert.AnError},
		},
		Order: []string{"gmail-1", "yahoo-1"},
		Total: 3,
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "gmail-1")
	assert.Contains(t, lines[2], assert.AnError.Error())
	assert.Contains(t, lines[3], "TOTAL")
}

func TestPrintBatch(t *testing.T) {
	var buf bytes.Buffer
	printBatch(&buf, models.Batch{
		ID:        "b1",
		Operation: models.AuditTrash,
		State:     models.BatchPartiallyFailed,
		Result: &models.DeletionResult{
			SucceededIDs: []string{"m1"},
			Failed:       []models.FailedItem{{ID: "m2", Reason: "not found"}},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "batch b1")
	assert.Contains(t, out, "succeeded: 1, failed: 1")
	assert.Contains(t, out, "m2: not found")
}
