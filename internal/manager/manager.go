// Package manager owns one connector per enabled account and fans
// operations out across them.
package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mixelka/maildash/internal/account"
	"github.com/mixelka/maildash/internal/connector"
	"github.com/mixelka/maildash/internal/mailerr"
	"github.com/mixelka/maildash/pkg/models"
)

// Account statuses reported by GetAccountSummary
const (
	StatusConnected = "connected"
	StatusFailed    = "failed"
	StatusDisabled  = "disabled"
	StatusPending   = "pending"
)

// Factory builds the connector for an account
type Factory func(acc models.Account) (connector.Connector, error)

// InitResult is the outcome of connecting one account
type InitResult struct {
	OK    bool
	Error error
}

// AccountSummary is one row of the account overview
type AccountSummary struct {
	AccountID string          `json:"account_id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Provider  models.Provider `json:"provider"`
	Status    string          `json:"status"`
	LastError string          `json:"last_error,omitempty"`
}

// UnreadCount is one account's unread count. Count is nil when the
// account's query failed.
type UnreadCount struct {
	Account models.Account
	Count   *int
	Error   error
}

// UnreadCountResult aggregates unread counts. Total sums successful
// counts only.
type UnreadCountResult struct {
	PerAccount map[string]UnreadCount
	Order      []string
	Total      int
}

// MessagesResult is a merged multi-account message listing. Messages are
// grouped by account in registry order.
type MessagesResult struct {
	Messages []models.AccountMessage
	Errors   map[string]error
}

// Options configures a Manager
type Options struct {
	// OperationTimeout bounds each call made through Do. Zero disables it.
	OperationTimeout time.Duration
	Logger           *slog.Logger
}

// Manager manages all account connectors
type Manager struct {
	registry *account.Registry
	factory  Factory
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	handles map[string]*handle
	results map[string]InitResult
}

// handle is the single owner of one account's connector. opMu serializes
// every operation against it.
type handle struct {
	opMu sync.Mutex
	conn connector.Connector
}

// New creates a manager over the registry's accounts
func New(registry *account.Registry, factory Factory, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		factory:  factory,
		timeout:  opts.OperationTimeout,
		logger:   logger.With("component", "account_manager"),
		handles:  make(map[string]*handle),
		results:  make(map[string]InitResult),
	}
}

// InitializeAllAccounts connects every enabled account concurrently. One
// account failing never stops the others.
func (m *Manager) InitializeAllAccounts(ctx context.Context) map[string]InitResult {
	accounts := m.registry.Enabled()
	m.logger.Info("initializing accounts", "count", len(accounts))

	var wg sync.WaitGroup
	var resMu sync.Mutex
	results := make(map[string]InitResult, len(accounts))

	for _, acc := range accounts {
		wg.Add(1)
		go func(acc models.Account) {
			defer wg.Done()
			res := m.initAccount(ctx, acc)

			resMu.Lock()
			results[acc.ID] = res
			resMu.Unlock()
		}(acc)
	}
	wg.Wait()

	ok := 0
	for _, res := range results {
		if res.OK {
			ok++
		}
	}
	m.logger.Info("finished initializing accounts", "connected", ok, "failed", len(results)-ok)
	return results
}

func (m *Manager) initAccount(ctx context.Context, acc models.Account) InitResult {
	h, err := m.handleFor(acc)
	if err != nil {
		res := InitResult{Error: err}
		m.setResult(acc.ID, res)
		m.logger.Error("failed to create connector", "account_id", acc.ID, "error", err)
		return res
	}

	h.opMu.Lock()
	defer h.opMu.Unlock()

	res := m.connect(ctx, acc.ID, h.conn)
	if res.Error != nil {
		m.logger.Error("failed to connect account", "account_id", acc.ID, "provider", acc.Provider, "error", res.Error)
	} else {
		m.logger.Info("account connected", "account_id", acc.ID, "provider", acc.Provider)
	}
	return res
}

// handleFor returns the account's handle, creating its connector once
func (m *Manager) handleFor(acc models.Account) (*handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handles[acc.ID]; ok {
		return h, nil
	}
	conn, err := m.factory(acc)
	if err != nil {
		return nil, err
	}
	h := &handle{conn: conn}
	m.handles[acc.ID] = h
	return h, nil
}

// connect must be called with the handle's opMu held
func (m *Manager) connect(ctx context.Context, id string, conn connector.Connector) InitResult {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	res := InitResult{OK: true}
	if err := conn.Connect(ctx); err != nil {
		res = InitResult{Error: err}
	}
	m.setResult(id, res)
	return res
}

func (m *Manager) setResult(id string, res InitResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[id] = res
}

// Do runs fn with the account's connector while holding that account's
// operation lock. A dropped session is reconnected first. fn runs under the
// operation timeout.
func (m *Manager) Do(ctx context.Context, accountID string, fn func(ctx context.Context, conn connector.Connector) error) error {
	return m.do(ctx, accountID, m.timeout, fn)
}

// DoBatch is Do without the operation timeout. Mutations use it so a paced
// fallback runs to completion. Reconnecting is still bounded.
func (m *Manager) DoBatch(ctx context.Context, accountID string, fn func(ctx context.Context, conn connector.Connector) error) error {
	return m.do(ctx, accountID, 0, fn)
}

func (m *Manager) do(ctx context.Context, accountID string, timeout time.Duration, fn func(ctx context.Context, conn connector.Connector) error) error {
	acc, ok := m.registry.Get(accountID)
	if !ok {
		return mailerr.Validation("account_id", "unknown account %q", accountID)
	}
	if !acc.Enabled {
		return mailerr.Validation("account_id", "account %q is disabled: %s", accountID, acc.DisabledReason)
	}

	m.mu.RLock()
	h, ok := m.handles[accountID]
	m.mu.RUnlock()
	if !ok {
		return mailerr.Validation("account_id", "account %q is not initialized", accountID)
	}

	h.opMu.Lock()
	defer h.opMu.Unlock()

	if !h.conn.Connected() {
		m.logger.Info("reconnecting account", "account_id", accountID)
		if res := m.connect(ctx, accountID, h.conn); res.Error != nil {
			return res.Error
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := fn(ctx, h.conn)
	if mailerr.IsAuth(err) {
		// next call logs in again
		if cerr := h.conn.Close(); cerr != nil {
			m.logger.Warn("failed to close connector", "account_id", accountID, "error", cerr)
		}
		m.setResult(accountID, InitResult{Error: err})
		m.logger.Warn("account credentials refused", "account_id", accountID, "error", err)
	}
	return err
}

// RetryFailed reconnects every enabled account whose last connect or
// operation failed. Connected accounts are left alone.
func (m *Manager) RetryFailed(ctx context.Context) map[string]InitResult {
	m.mu.RLock()
	var failed []models.Account
	for _, acc := range m.registry.Enabled() {
		if res, ok := m.results[acc.ID]; ok && !res.OK {
			failed = append(failed, acc)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	var resMu sync.Mutex
	results := make(map[string]InitResult, len(failed))
	for _, acc := range failed {
		wg.Add(1)
		go func(acc models.Account) {
			defer wg.Done()
			res := m.initAccount(ctx, acc)

			resMu.Lock()
			results[acc.ID] = res
			resMu.Unlock()
		}(acc)
	}
	wg.Wait()
	return results
}

// RunRetries calls RetryFailed every interval until ctx is cancelled
func (m *Manager) RunRetries(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for id, res := range m.RetryFailed(ctx) {
				if res.OK {
					m.logger.Info("account recovered", "account_id", id)
				}
			}
		}
	}
}

// connectedAccounts returns enabled accounts whose last connect succeeded,
// in registry order
func (m *Manager) connectedAccounts() []models.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Account
	for _, acc := range m.registry.Enabled() {
		if res, ok := m.results[acc.ID]; ok && res.OK {
			out = append(out, acc)
		}
	}
	return out
}

// GetAccountSummary lists every configured account with its status
func (m *Manager) GetAccountSummary() []AccountSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	accounts := m.registry.GetAllAccounts()
	out := make([]AccountSummary, 0, len(accounts))
	for _, acc := range accounts {
		s := AccountSummary{
			AccountID: acc.ID,
			Name:      acc.DisplayName(),
			Email:     acc.Email,
			Provider:  acc.Provider,
		}

		switch res, ok := m.results[acc.ID]; {
		case !acc.Enabled:
			s.Status = StatusDisabled
			s.LastError = acc.DisabledReason
		case !ok:
			s.Status = StatusPending
		case res.OK:
			s.Status = StatusConnected
		default:
			s.Status = StatusFailed
			s.LastError = res.Error.Error()
		}
		out = append(out, s)
	}
	return out
}

// GetUnreadCounts queries every connected account concurrently
func (m *Manager) GetUnreadCounts(ctx context.Context) UnreadCountResult {
	accounts := m.connectedAccounts()
	result := UnreadCountResult{
		PerAccount: make(map[string]UnreadCount, len(accounts)),
		Order:      make([]string, 0, len(accounts)),
	}

	var wg sync.WaitGroup
	var resMu sync.Mutex
	for _, acc := range accounts {
		wg.Add(1)
		go func(acc models.Account) {
			defer wg.Done()

			var n int
			err := m.Do(ctx, acc.ID, func(ctx context.Context, conn connector.Connector) error {
				var err error
				n, err = conn.UnreadCount(ctx)
				return err
			})

			uc := UnreadCount{Account: acc, Error: err}
			if err == nil {
				uc.Count = &n
			} else {
				m.logger.Warn("failed to get unread count", "account_id", acc.ID, "error", err)
			}

			resMu.Lock()
			result.PerAccount[acc.ID] = uc
			resMu.Unlock()
		}(acc)
	}
	wg.Wait()

	for _, acc := range accounts {
		result.Order = append(result.Order, acc.ID)
		if c := result.PerAccount[acc.ID].Count; c != nil {
			result.Total += *c
		}
	}
	return result
}

// SearchAcrossAccounts runs query on every connected account and merges the
// results, at most limit per account. No cross-provider ranking is applied.
func (m *Manager) SearchAcrossAccounts(ctx context.Context, query string, limit int) MessagesResult {
	return m.collect(ctx, "search", func(ctx context.Context, conn connector.Connector) ([]models.Message, error) {
		cur, err := conn.Search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		defer cur.Close()
		return cur.Collect(ctx)
	})
}

// RecentAcrossAccounts merges each connected account's newest messages
func (m *Manager) RecentAcrossAccounts(ctx context.Context, limit int) MessagesResult {
	return m.collect(ctx, "recent", func(ctx context.Context, conn connector.Connector) ([]models.Message, error) {
		return conn.ListRecent(ctx, limit)
	})
}

func (m *Manager) collect(ctx context.Context, op string, fetch func(ctx context.Context, conn connector.Connector) ([]models.Message, error)) MessagesResult {
	accounts := m.connectedAccounts()

	var wg sync.WaitGroup
	perAccount := make([][]models.Message, len(accounts))
	errs := make([]error, len(accounts))

	for i, acc := range accounts {
		wg.Add(1)
		go func(i int, acc models.Account) {
			defer wg.Done()
			errs[i] = m.Do(ctx, acc.ID, func(ctx context.Context, conn connector.Connector) error {
				msgs, err := fetch(ctx, conn)
				perAccount[i] = msgs
				return err
			})
			if errs[i] != nil {
				m.logger.Warn("account query failed", "op", op, "account_id", acc.ID, "error", errs[i])
			}
		}(i, acc)
	}
	wg.Wait()

	result := MessagesResult{Messages: []models.AccountMessage{}, Errors: map[string]error{}}
	for i, acc := range accounts {
		if errs[i] != nil {
			result.Errors[acc.ID] = errs[i]
		}
		for _, msg := range perAccount[i] {
			result.Messages = append(result.Messages, models.AccountMessage{AccountID: acc.ID, Message: msg})
		}
	}
	return result
}

// StopAll closes every connector
func (m *Manager) StopAll() {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]*handle)
	m.results = make(map[string]InitResult)
	m.mu.Unlock()

	m.logger.Info("stopping all connectors")

	var wg sync.WaitGroup
	for id, h := range handles {
		wg.Add(1)
		go func(id string, h *handle) {
			defer wg.Done()
			h.opMu.Lock()
			defer h.opMu.Unlock()
			if err := h.conn.Close(); err != nil {
				m.logger.Warn("failed to close connector", "account_id", id, "error", err)
			}
		}(id, h)
	}
	wg.Wait()

	m.logger.Info("all connectors stopped")
}
