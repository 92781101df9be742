package connector

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/mixelka/maildash/internal/mailerr"
	"github.com/mixelka/maildash/pkg/models"
)

const (
	// gmailBatchLimit is the most ids messages.batchModify accepts
	gmailBatchLimit = 1000
	gmailPageSize   = 100
	defaultRecent   = 20
)

// GmailConnector serves a Gmail account over the REST API
type GmailConnector struct {
	account models.Account
	creds   Credentials
	opts    Options
	logger  *slog.Logger
	newAPI  func(ctx context.Context, ts oauth2.TokenSource) (GmailAPI, error)

	mu  sync.Mutex
	api GmailAPI
}

// NewGmailConnector creates a connector for a Gmail account
func NewGmailConnector(acc models.Account, creds Credentials, opts Options) *GmailConnector {
	return &GmailConnector{
		account: acc,
		creds:   creds,
		opts:    opts,
		logger:  opts.logger().With("account_id", acc.ID, "provider", acc.Provider),
		newAPI: func(ctx context.Context, ts oauth2.TokenSource) (GmailAPI, error) {
			return NewGmailAPI(ctx, ts)
		},
	}
}

// WithAPIFactory replaces how the Gmail client is built
func (c *GmailConnector) WithAPIFactory(fn func(ctx context.Context, ts oauth2.TokenSource) (GmailAPI, error)) *GmailConnector {
	c.newAPI = fn
	return c
}

func (c *GmailConnector) Account() models.Account { return c.account }

// Connect resolves the OAuth token and verifies it against the profile
// endpoint
func (c *GmailConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.api != nil {
		return nil
	}

	ts, err := c.creds.TokenSource(ctx, c.account.CredentialsRef)
	if err != nil {
		return &mailerr.AuthError{Provider: string(c.account.Provider), Account: c.account.ID, Err: err}
	}

	api, err := c.newAPI(ctx, ts)
	if err != nil {
		return c.classify("connect", err)
	}

	address, err := api.Profile(ctx)
	if err != nil {
		return c.classify("connect", err)
	}
	if c.account.Email != "" && !strings.EqualFold(address, c.account.Email) {
		c.logger.Warn("token belongs to a different mailbox", "configured", c.account.Email, "actual", address)
	}

	c.api = api
	c.logger.Info("connected to gmail", "email", address)
	return nil
}

func (c *GmailConnector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.api != nil
}

func (c *GmailConnector) client() (GmailAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api == nil {
		return nil, notConnected(c.account.Provider, c.account.ID)
	}
	return c.api, nil
}

func (c *GmailConnector) UnreadCount(ctx context.Context) (int, error) {
	api, err := c.client()
	if err != nil {
		return 0, err
	}

	n, err := api.InboxUnread(ctx)
	if err != nil {
		return 0, c.classify("unread count", err)
	}
	if n < 0 {
		n = 0
	}
	return int(n), nil
}

func (c *GmailConnector) ListRecent(ctx context.Context, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = defaultRecent
	}
	cur, err := c.Search(ctx, "in:inbox", limit)
	if err != nil {
		return nil, err
	}
	return cur.Collect(ctx)
}

// Search pages through messages.list lazily. Results keep Gmail's own
// ordering.
func (c *GmailConnector) Search(ctx context.Context, query string, limit int) (*Cursor, error) {
	if _, err := c.client(); err != nil {
		return nil, err
	}

	pageToken := ""
	return NewCursor(limit, func(ctx context.Context, want int) ([]models.Message, bool, error) {
		api, err := c.client()
		if err != nil {
			return nil, false, err
		}

		size := int64(gmailPageSize)
		if want > 0 && int64(want) < size {
			size = int64(want)
		}

		ids, next, err := api.List(ctx, query, pageToken, size)
		if err != nil {
			return nil, false, c.classify("search", err)
		}
		pageToken = next

		msgs, err := c.fetchMessages(ctx, api, ids)
		if err != nil {
			return nil, false, err
		}
		return msgs, next != "", nil
	}), nil
}

func (c *GmailConnector) fetchMessages(ctx context.Context, api GmailAPI, ids []string) ([]models.Message, error) {
	msgs := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		m, err := api.Metadata(ctx, id)
		if err != nil {
			classified := c.classify("get message", err)
			if mailerr.IsAuth(classified) || mailerr.IsNetwork(classified) {
				return nil, classified
			}
			// Message vanished between list and get
			c.logger.Warn("skipping message", "message_id", id, "error", err)
			continue
		}
		msgs = append(msgs, models.Message{
			ID:       m.ID,
			From:     m.From,
			Subject:  m.Subject,
			Date:     m.Date,
			Snippet:  makeSnippet(m.Snippet),
			IsUnread: slices.Contains(m.LabelIDs, labelUnread),
		})
	}
	return msgs, nil
}

// Trash moves one message to Gmail's trash
func (c *GmailConnector) Trash(ctx context.Context, id string) error {
	if id == "" {
		return mailerr.Validation("message_id", "must not be empty")
	}
	api, err := c.client()
	if err != nil {
		return err
	}
	if err := api.Trash(ctx, id); err != nil {
		return c.classify("trash", err)
	}
	return nil
}

// BatchTrash adds the TRASH label in chunks through batchModify. Chunks the
// API rejects are retried one message at a time under the fallback policy.
func (c *GmailConnector) BatchTrash(ctx context.Context, ids []string) models.DeletionResult {
	result := models.DeletionResult{SucceededIDs: []string{}, Failed: []models.FailedItem{}}
	if len(ids) == 0 {
		return result
	}

	api, err := c.client()
	if err != nil {
		return failAll(ids, err)
	}

	var retry []string
	for chunk := range slices.Chunk(ids, gmailBatchLimit) {
		err := api.BatchModify(ctx, chunk, []string{labelTrash}, nil)
		if err == nil {
			result.SucceededIDs = append(result.SucceededIDs, chunk...)
			continue
		}

		err = c.classify("batch trash", err)
		if mailerr.IsAuth(err) {
			// Every single-message call would be rejected the same way
			merge(&result, failAll(chunk, err))
			continue
		}
		c.logger.Warn("bulk trash failed, falling back to single messages", "count", len(chunk), "error", err)
		retry = append(retry, chunk...)
	}

	if len(retry) > 0 {
		merge(&result, trashEach(ctx, retry, c.opts.Fallback, c.Trash))
	}
	return result
}

// Restore removes the TRASH label again
func (c *GmailConnector) Restore(ctx context.Context, id string) error {
	if id == "" {
		return mailerr.Validation("message_id", "must not be empty")
	}
	api, err := c.client()
	if err != nil {
		return err
	}
	if err := api.Untrash(ctx, id); err != nil {
		return c.classify("restore", err)
	}
	return nil
}

func (c *GmailConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.api = nil
	return nil
}

func (c *GmailConnector) classify(op string, err error) error {
	return classifyGmail(string(c.account.Provider), c.account.ID, op, err)
}

// classifyGmail maps Gmail and OAuth errors onto the mailerr taxonomy
func classifyGmail(provider, accountID, op string, err error) error {
	if err == nil {
		return nil
	}
	if mailerr.Kind(err) != "internal" {
		return err
	}

	auth := &mailerr.AuthError{Provider: provider, Account: accountID, Err: err}
	network := &mailerr.NetworkError{Provider: provider, Account: accountID, Err: err}
	rejected := &mailerr.ProviderError{Provider: provider, Account: accountID, Op: op, Err: err}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized:
			return auth
		case gerr.Code == http.StatusForbidden && isRateLimit(gerr):
			return network
		case gerr.Code == http.StatusForbidden && isQuota(gerr):
			return rejected
		case gerr.Code == http.StatusForbidden:
			rejected.Denied = true
			return rejected
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return network
		default:
			return rejected
		}
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return auth
	}

	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, context.DeadlineExceeded) {
		return network
	}

	return rejected
}

func isRateLimit(gerr *googleapi.Error) bool {
	return hasReason(gerr, "ratelimitexceeded")
}

// isQuota matches quotaExceeded and dailyLimitExceeded
func isQuota(gerr *googleapi.Error) bool {
	return hasReason(gerr, "quotaexceeded") || hasReason(gerr, "dailylimitexceeded")
}

func hasReason(gerr *googleapi.Error, reason string) bool {
	for _, item := range gerr.Errors {
		if strings.Contains(strings.ToLower(item.Reason), reason) {
			return true
		}
	}
	return false
}

var _ Connector = (*GmailConnector)(nil)
