package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/maildash/internal/mailerr"
	"github.com/mixelka/maildash/internal/manager"
	"github.com/mixelka/maildash/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAccounts struct {
	lastQuery string
	lastLimit int
}

func (f *fakeAccounts) GetAccountSummary() []manager.AccountSummary {
	return []manager.AccountSummary{
		{AccountID: "g", Name: "Gmail", Provider: models.ProviderGmail, Status: manager.StatusConnected},
		{AccountID: "y", Name: "Yahoo", Provider: models.ProviderYahooIMAP, Status: manager.StatusFailed, LastError: "login failed"},
	}
}

func (f *fakeAccounts) GetUnreadCounts(context.Context) manager.UnreadCountResult {
	n := 3
	return manager.UnreadCountResult{
		PerAccount: map[string]manager.UnreadCount{
			"g": {Account: models.Account{ID: "g", Name: "Gmail", Provider: models.ProviderGmail}, Count: &n},
			"y": {Account: models.Account{ID: "y", Provider: models.ProviderYahooIMAP}, Error: errors.New("timeout")},
		},
		Order: []string{"g", "y"},
		Total: 3,
	}
}

func (f *fakeAccounts) SearchAcrossAccounts(_ context.Context, query string, limit int) manager.MessagesResult {
	f.lastQuery, f.lastLimit = query, limit
	return manager.MessagesResult{
		Messages: []models.AccountMessage{{AccountID: "g", Message: models.Message{ID: "m1", Subject: "invoice"}}},
		Errors:   map[string]error{"y": errors.New("search failed")},
	}
}

func (f *fakeAccounts) RecentAcrossAccounts(_ context.Context, limit int) manager.MessagesResult {
	f.lastLimit = limit
	return manager.MessagesResult{Errors: map[string]error{}}
}

type fakeBatches struct {
	batch models.Batch
	err   error
	known map[string]models.Batch
}

func (f *fakeBatches) Trash(_ context.Context, accountID string, ids []string) (models.Batch, error) {
	b := f.batch
	b.AccountID = accountID
	b.MessageIDs = ids
	return b, f.err
}

func (f *fakeBatches) Restore(ctx context.Context, accountID string, ids []string) (models.Batch, error) {
	return f.Trash(ctx, accountID, ids)
}

func (f *fakeBatches) Get(_ context.Context, id string) (models.Batch, bool, error) {
	b, ok := f.known[id]
	return b, ok, nil
}

type fakeAudit struct {
	accountID string
	limit     int
}

func (f *fakeAudit) ListAudit(_ context.Context, accountID string, limit int) ([]*models.AuditLogEntry, error) {
	f.accountID, f.limit = accountID, limit
	return []*models.AuditLogEntry{{ID: 1, AccountID: "g", Operation: models.AuditTrash, Outcome: "COMPLETED"}}, nil
}

func newTestServer(batches *fakeBatches) (*Server, *fakeAccounts, *fakeAudit) {
	accounts := &fakeAccounts{}
	audit := &fakeAudit{}
	if batches == nil {
		batches = &fakeBatches{}
	}
	s := NewServer(Config{SearchLimit: 10, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, accounts, batches, audit)
	return s, accounts, audit
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(nil)
	w := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAccounts(t *testing.T) {
	s, _, _ := newTestServer(nil)
	w := do(t, s, http.MethodGet, "/api/accounts", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Accounts []manager.AccountSummary `json:"accounts"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Accounts, 2)
	assert.Equal(t, "failed", resp.Accounts[1].Status)
}

func TestStats(t *testing.T) {
	s, _, _ := newTestServer(nil)
	w := do(t, s, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp statsResponse
	decode(t, w, &resp)
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Accounts, 2)
	assert.Equal(t, 3, *resp.Accounts[0].Count)
	assert.Nil(t, resp.Accounts[1].Count)
	assert.Equal(t, "timeout", resp.Accounts[1].Error)
}

func TestSearch(t *testing.T) {
	s, accounts, _ := newTestServer(nil)

	w := do(t, s, http.MethodGet, "/api/search?q=", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/search?q=invoice&limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/search?q=invoice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "invoice", accounts.lastQuery)
	assert.Equal(t, 10, accounts.lastLimit)

	var resp messagesResponse
	decode(t, w, &resp)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "g", resp.Messages[0].AccountID)
	assert.Equal(t, "search failed", resp.Errors["y"])

	do(t, s, http.MethodGet, "/api/search?q=x&limit=9999", "")
	assert.Equal(t, maxLimit, accounts.lastLimit)
}

func TestRecent(t *testing.T) {
	s, accounts, _ := newTestServer(nil)
	w := do(t, s, http.MethodGet, "/api/emails/recent?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, accounts.lastLimit)
	assert.JSONEq(t, `{"messages":[],"errors":{}}`, w.Body.String())
}

func TestTrashStatusCodes(t *testing.T) {
	ok := &models.DeletionResult{SucceededIDs: []string{"a", "b"}, Failed: []models.FailedItem{}}
	mixed := &models.DeletionResult{SucceededIDs: []string{"a"}, Failed: []models.FailedItem{{ID: "b", Kind: "provider"}}}
	none := &models.DeletionResult{SucceededIDs: []string{}, Failed: []models.FailedItem{{ID: "a", Kind: "network"}, {ID: "b", Kind: "provider"}}}
	denied := &models.DeletionResult{SucceededIDs: []string{}, Failed: []models.FailedItem{{ID: "a", Kind: "auth"}, {ID: "b", Kind: "auth"}}}
	forbidden := &models.DeletionResult{SucceededIDs: []string{}, Failed: []models.FailedItem{{ID: "a", Kind: "permission"}, {ID: "b", Kind: "permission"}}}
	partlyForbidden := &models.DeletionResult{SucceededIDs: []string{}, Failed: []models.FailedItem{{ID: "a", Kind: "permission"}, {ID: "b", Kind: "auth"}}}

	tests := []struct {
		name  string
		batch models.Batch
		err   error
		want  int
	}{
		{"all succeeded", models.Batch{State: models.BatchCompleted, Result: ok}, nil, http.StatusOK},
		{"mixed", models.Batch{State: models.BatchPartiallyFailed, Result: mixed}, nil, http.StatusMultiStatus},
		{"all failed", models.Batch{State: models.BatchPartiallyFailed, Result: none}, nil, http.StatusInternalServerError},
		{"auth on every id", models.Batch{State: models.BatchPartiallyFailed, Result: denied}, nil, http.StatusUnauthorized},
		{"account refused login", models.Batch{State: models.BatchPartiallyFailed, Result: denied, ErrorKind: "auth"}, nil, http.StatusUnauthorized},
		{"permission denied on every id", models.Batch{State: models.BatchPartiallyFailed, Result: forbidden}, nil, http.StatusForbidden},
		{"mixed refusal kinds", models.Batch{State: models.BatchPartiallyFailed, Result: partlyForbidden}, nil, http.StatusInternalServerError},
		{"rejected", models.Batch{State: models.BatchRejected}, mailerr.Validation("message_ids", "must contain at least one id"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestServer(&fakeBatches{batch: tt.batch, err: tt.err})
			w := do(t, s, http.MethodPost, "/api/emails/trash", `{"account_id":"g","message_ids":["a","b"]}`)
			assert.Equal(t, tt.want, w.Code)

			w = do(t, s, http.MethodPost, "/api/emails/restore", `{"account_id":"g","message_ids":["a","b"]}`)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestTrashBadBody(t *testing.T) {
	s, _, _ := newTestServer(nil)

	w := do(t, s, http.MethodPost, "/api/emails/trash", `{"message_ids":["a"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/emails/trash", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchLookup(t *testing.T) {
	known := map[string]models.Batch{"b1": {ID: "b1", State: models.BatchCompleted}}
	s, _, _ := newTestServer(&fakeBatches{known: known})

	w := do(t, s, http.MethodGet, "/api/batches/b1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var b models.Batch
	decode(t, w, &b)
	assert.Equal(t, models.BatchCompleted, b.State)

	w = do(t, s, http.MethodGet, "/api/batches/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAudit(t *testing.T) {
	s, _, audit := newTestServer(nil)

	w := do(t, s, http.MethodGet, "/api/audit?account_id=g&limit=20", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "g", audit.accountID)
	assert.Equal(t, 20, audit.limit)

	w = do(t, s, http.MethodGet, "/api/audit?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
