package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mixelka/maildash/internal/mailerr"
	"github.com/mixelka/maildash/internal/manager"
	"github.com/mixelka/maildash/pkg/models"
)

const maxLimit = 500

type accountCount struct {
	AccountID string          `json:"account_id"`
	Name      string          `json:"name"`
	Provider  models.Provider `json:"provider"`
	Count     *int            `json:"count"`
	Error     string          `json:"error,omitempty"`
}

type statsResponse struct {
	Total    int            `json:"total"`
	Accounts []accountCount `json:"accounts"`
}

type messagesResponse struct {
	Messages []models.AccountMessage `json:"messages"`
	Errors   map[string]string       `json:"errors"`
}

type batchRequest struct {
	AccountID  string   `json:"account_id" binding:"required"`
	MessageIDs []string `json:"message_ids" binding:"required"`
}

func (s *Server) handleAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.accounts.GetAccountSummary()})
}

func (s *Server) handleStats(c *gin.Context) {
	res := s.accounts.GetUnreadCounts(c.Request.Context())

	resp := statsResponse{Total: res.Total, Accounts: make([]accountCount, 0, len(res.Order))}
	for _, id := range res.Order {
		uc := res.PerAccount[id]
		ac := accountCount{
			AccountID: id,
			Name:      uc.Account.DisplayName(),
			Provider:  uc.Account.Provider,
			Count:     uc.Count,
		}
		if uc.Error != nil {
			ac.Error = uc.Error.Error()
		}
		resp.Accounts = append(resp.Accounts, ac)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRecent(c *gin.Context) {
	limit, ok := s.limit(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toMessages(s.accounts.RecentAcrossAccounts(c.Request.Context(), limit)))
}

func (s *Server) handleSearch(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	limit, ok := s.limit(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toMessages(s.accounts.SearchAcrossAccounts(c.Request.Context(), query, limit)))
}

func toMessages(res manager.MessagesResult) messagesResponse {
	resp := messagesResponse{Messages: res.Messages, Errors: make(map[string]string, len(res.Errors))}
	if resp.Messages == nil {
		resp.Messages = []models.AccountMessage{}
	}
	for id, err := range res.Errors {
		resp.Errors[id] = err.Error()
	}
	return resp
}

func (s *Server) handleTrash(c *gin.Context) {
	s.runBatch(c, s.batches.Trash)
}

func (s *Server) handleRestore(c *gin.Context) {
	s.runBatch(c, s.batches.Restore)
}

func (s *Server) runBatch(c *gin.Context, run func(ctx context.Context, accountID string, ids []string) (models.Batch, error)) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	batch, err := run(c.Request.Context(), req.AccountID, req.MessageIDs)
	status := batchStatus(batch, err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("batch failed", "batch_id", batch.ID, "account_id", req.AccountID, "error", batch.Error)
	}
	c.JSON(status, batch)
}

// batchStatus maps a finished batch to an HTTP status: 200 when every id
// succeeded, 207 when some did, 500 when none did, 400 for rejected input,
// 401 when the account's credentials were refused and 403 when the backend
// denied permission
func batchStatus(b models.Batch, err error) int {
	if err != nil {
		if mailerr.IsValidation(err) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
	if status, ok := kindStatus[b.ErrorKind]; ok {
		return status
	}
	if b.Result == nil {
		return http.StatusInternalServerError
	}

	switch {
	case b.Result.AllFailed():
		kind := b.Result.Failed[0].Kind
		for _, f := range b.Result.Failed[1:] {
			if f.Kind != kind {
				return http.StatusInternalServerError
			}
		}
		if status, ok := kindStatus[kind]; ok {
			return status
		}
		return http.StatusInternalServerError
	case len(b.Result.Failed) > 0:
		return http.StatusMultiStatus
	default:
		return http.StatusOK
	}
}

var kindStatus = map[string]int{
	"auth":       http.StatusUnauthorized,
	"permission": http.StatusForbidden,
}

func (s *Server) handleBatch(c *gin.Context) {
	batch, ok, err := s.batches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) handleAudit(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxLimit)
	}

	entries, err := s.audit.ListAudit(c.Request.Context(), c.Query("account_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []*models.AuditLogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// limit parses ?limit=, writing a 400 and returning false when invalid
func (s *Server) limit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return s.searchLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(n, maxLimit), true
}
