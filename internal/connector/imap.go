package connector

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/mixelka/maildash/internal/mailerr"
	"github.com/mixelka/maildash/pkg/models"
)

const (
	inboxMailbox        = "INBOX"
	defaultTrashMailbox = "Trash"
	imapPageSize        = 20
	defaultDialTimeout  = 30 * time.Second
)

// Default IMAP servers per provider
var imapServers = map[models.Provider]string{
	models.ProviderYahooIMAP: "imap.mail.yahoo.com:993",
	models.ProviderAOLIMAP:   "imap.aol.com:993",
}

// imapSession is the subset of *client.Client the connector drives. It has
// no EXPUNGE: trashed messages stay recoverable until the user empties the
// trash themselves.
type imapSession interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidCopy(seqset *imap.SeqSet, dest string) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Logout() error
	Terminate() error
}

type imapDialer func(ctx context.Context, server string, timeout time.Duration) (imapSession, error)

// dialTLS connects to an IMAPS server
func dialTLS(ctx context.Context, server string, timeout time.Duration) (imapSession, error) {
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}}
	conn, err := dialer.DialContext(ctx, "tcp", server)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create IMAP client: %w", err)
	}
	return c, nil
}

// ImapServer returns the host:port for an IMAP account
func ImapServer(acc models.Account) string {
	if acc.IMAPServer != "" {
		return acc.IMAPServer
	}
	if server, ok := imapServers[acc.Provider]; ok {
		return server
	}
	if _, domain, ok := strings.Cut(acc.Email, "@"); ok {
		return "imap." + strings.ToLower(domain) + ":993"
	}
	return ""
}

// ImapConnector serves a Yahoo or AOL account over IMAP
type ImapConnector struct {
	account models.Account
	creds   Credentials
	opts    Options
	logger  *slog.Logger
	dial    imapDialer
	server  string
	trash   string

	mu      sync.Mutex
	session imapSession
}

// NewImapConnector creates a connector for an IMAP account
func NewImapConnector(acc models.Account, creds Credentials, opts Options) *ImapConnector {
	trash := acc.TrashMailbox
	if trash == "" {
		trash = defaultTrashMailbox
	}
	server := ImapServer(acc)

	return &ImapConnector{
		account: acc,
		creds:   creds,
		opts:    opts,
		logger:  opts.logger().With("account_id", acc.ID, "provider", acc.Provider, "server", server),
		dial:    dialTLS,
		server:  server,
		trash:   trash,
	}
}

func (c *ImapConnector) Account() models.Account { return c.account }

// Connect dials the server and logs in with the account's app password
func (c *ImapConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil
	}

	password, err := c.creds.Password(ctx, c.account.CredentialsRef)
	if err != nil {
		return &mailerr.AuthError{Provider: string(c.account.Provider), Account: c.account.ID, Err: err}
	}

	timeout := c.opts.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	c.logger.Info("connecting to IMAP server")
	session, err := c.dial(ctx, c.server, timeout)
	if err != nil {
		return &mailerr.NetworkError{Provider: string(c.account.Provider), Account: c.account.ID, Err: err}
	}

	if err := session.Login(c.account.Email, password); err != nil {
		session.Logout()
		return &mailerr.AuthError{Provider: string(c.account.Provider), Account: c.account.ID, Err: fmt.Errorf("failed to login: %w", err)}
	}

	c.session = session
	c.logger.Info("connected to IMAP server")
	return nil
}

func (c *ImapConnector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// withSession runs fn against the live session under the connector lock.
// Transport failures drop the session so the next Connect starts fresh.
func (c *ImapConnector) withSession(op string, fn func(s imapSession) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return notConnected(c.account.Provider, c.account.ID)
	}

	err := fn(c.session)
	if err == nil {
		return nil
	}
	if mailerr.Kind(err) != "internal" {
		return err
	}
	if isConnectionError(err) {
		c.dropSession()
		return &mailerr.NetworkError{Provider: string(c.account.Provider), Account: c.account.ID, Err: err}
	}
	return &mailerr.ProviderError{Provider: string(c.account.Provider), Account: c.account.ID, Op: op, Err: err}
}

// isConnectionError reports errors after which the session is unusable. A
// server BYE moves the client to the logout state, so later commands fail
// with ErrNotLoggedIn.
func isConnectionError(err error) bool {
	var nerr net.Error
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, client.ErrNotLoggedIn) ||
		errors.Is(err, client.ErrAlreadyLoggedOut) ||
		errors.As(err, &nerr)
}

// dropSession must be called with c.mu held
func (c *ImapConnector) dropSession() {
	if c.session == nil {
		return
	}
	s := c.session
	c.session = nil
	go s.Terminate()
	c.logger.Warn("IMAP connection lost")
}

func selectMailbox(s imapSession, name string, readOnly bool) error {
	if _, err := s.Select(name, readOnly); err != nil {
		return fmt.Errorf("failed to select %s: %w", name, err)
	}
	return nil
}

func (c *ImapConnector) UnreadCount(ctx context.Context) (int, error) {
	var n int
	err := c.withSession("unread count", func(s imapSession) error {
		if err := selectMailbox(s, inboxMailbox, true); err != nil {
			return err
		}

		criteria := imap.NewSearchCriteria()
		criteria.WithoutFlags = []string{imap.SeenFlag, imap.DeletedFlag}
		uids, err := s.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("failed to search unseen: %w", err)
		}
		n = len(uids)
		return nil
	})
	return n, err
}

func (c *ImapConnector) ListRecent(ctx context.Context, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = defaultRecent
	}
	cur, err := c.Search(ctx, "", limit)
	if err != nil {
		return nil, err
	}
	return cur.Collect(ctx)
}

// Search runs UID SEARCH TEXT once and fetches envelopes page by page,
// newest UID first. An empty query matches every undeleted message.
func (c *ImapConnector) Search(ctx context.Context, query string, limit int) (*Cursor, error) {
	var uids []uint32
	err := c.withSession("search", func(s imapSession) error {
		if err := selectMailbox(s, inboxMailbox, true); err != nil {
			return err
		}

		criteria := imap.NewSearchCriteria()
		criteria.WithoutFlags = []string{imap.DeletedFlag}
		if q := strings.TrimSpace(query); q != "" {
			criteria.Text = []string{q}
		}

		found, err := s.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("failed to search: %w", err)
		}
		uids = newestFirst(found)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	return NewCursor(limit, func(ctx context.Context, want int) ([]models.Message, bool, error) {
		n := imapPageSize
		if want > 0 && want < n {
			n = want
		}
		n = min(n, len(uids))

		page := uids[:n]
		uids = uids[n:]
		if len(page) == 0 {
			return nil, false, nil
		}

		msgs, err := c.fetchSummaries(page)
		if err != nil {
			return nil, false, err
		}
		return msgs, len(uids) > 0, nil
	}), nil
}

func newestFirst(uids []uint32) []uint32 {
	out := slices.Clone(uids)
	slices.Sort(out)
	slices.Reverse(out)
	return out
}

// fetchSummaries fetches envelope, flags and a peeked body for uids and
// returns them in the order given
func (c *ImapConnector) fetchSummaries(uids []uint32) ([]models.Message, error) {
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchFlags, section.FetchItem()}

	var fetched map[uint32]*imap.Message
	err := c.withSession("fetch", func(s imapSession) error {
		if err := selectMailbox(s, inboxMailbox, true); err != nil {
			return err
		}
		var err error
		fetched, err = fetchMessages(s, uids, items)
		return err
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]models.Message, 0, len(uids))
	for _, uid := range uids {
		msg, ok := fetched[uid]
		if !ok {
			continue
		}
		msgs = append(msgs, toSummary(msg, section))
	}
	return msgs, nil
}

// fetchMessages runs UID FETCH and collects the responses by UID
func fetchMessages(s imapSession, uids []uint32, items []imap.FetchItem) (map[uint32]*imap.Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- s.UidFetch(seqSet, items, messages)
	}()

	out := make(map[uint32]*imap.Message, len(uids))
	for msg := range messages {
		out[msg.Uid] = msg
	}

	if err := <-done; err != nil {
		return out, fmt.Errorf("failed to fetch: %w", err)
	}
	return out, nil
}

func toSummary(msg *imap.Message, section *imap.BodySectionName) models.Message {
	m := models.Message{
		ID:       strconv.FormatUint(uint64(msg.Uid), 10),
		IsUnread: !slices.Contains(msg.Flags, imap.SeenFlag),
	}

	if env := msg.Envelope; env != nil {
		m.Subject = env.Subject
		m.Date = env.Date
		if len(env.From) > 0 {
			m.From = formatAddress(env.From[0])
		}
	}

	if body := msg.GetBody(section); body != nil {
		m.Snippet = snippetFromMIME(body)
	}
	return m
}

func formatAddress(addr *imap.Address) string {
	if addr.PersonalName == "" {
		return addr.Address()
	}
	return fmt.Sprintf("%s <%s>", addr.PersonalName, addr.Address())
}

func parseUID(id string) (uint32, error) {
	uid, err := strconv.ParseUint(strings.TrimSpace(id), 10, 32)
	if err != nil || uid == 0 {
		return 0, mailerr.Validation("message_id", "%q is not an IMAP UID", id)
	}
	return uint32(uid), nil
}

// moveToTrash copies the undeleted subset of uids to the trash mailbox and
// flags the originals \Deleted. It returns the UIDs it trashed. INBOX must
// be selected read-write.
func (c *ImapConnector) moveToTrash(s imapSession, uids []uint32) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddNum(uids...)
	criteria.WithoutFlags = []string{imap.DeletedFlag}

	existing, err := s.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to look up messages: %w", err)
	}
	if len(existing) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(existing...)

	// Copy first: a message is only flagged once a recoverable copy exists
	if err := s.UidCopy(seqSet, c.trash); err != nil {
		return nil, fmt.Errorf("failed to copy to %s: %w", c.trash, err)
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := s.UidStore(seqSet, item, flags, nil); err != nil {
		return nil, fmt.Errorf("failed to mark as deleted: %w", err)
	}

	return existing, nil
}

// Trash copies one message to the trash mailbox and flags it \Deleted
func (c *ImapConnector) Trash(ctx context.Context, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}

	return c.withSession("trash", func(s imapSession) error {
		if err := selectMailbox(s, inboxMailbox, false); err != nil {
			return err
		}
		done, err := c.moveToTrash(s, []uint32{uid})
		if err != nil {
			return err
		}
		if len(done) == 0 {
			return c.notFound("trash", id)
		}
		return nil
	})
}

// BatchTrash trashes every UID with one COPY and one STORE. If the bulk
// commands fail, each message is retried on its own under the fallback
// policy.
func (c *ImapConnector) BatchTrash(ctx context.Context, ids []string) models.DeletionResult {
	result := models.DeletionResult{SucceededIDs: []string{}, Failed: []models.FailedItem{}}

	var uids []uint32
	for _, id := range ids {
		uid, err := parseUID(id)
		if err != nil {
			result.Failed = append(result.Failed, failedItem(id, err))
			continue
		}
		uids = append(uids, uid)
	}
	if len(uids) == 0 {
		return result
	}

	var trashed []uint32
	err := c.withSession("batch trash", func(s imapSession) error {
		if err := selectMailbox(s, inboxMailbox, false); err != nil {
			return err
		}
		var err error
		trashed, err = c.moveToTrash(s, uids)
		return err
	})

	if err == nil {
		for _, uid := range uids {
			id := strconv.FormatUint(uint64(uid), 10)
			if slices.Contains(trashed, uid) {
				result.SucceededIDs = append(result.SucceededIDs, id)
			} else {
				result.Failed = append(result.Failed, failedItem(id, c.notFound("trash", id)))
			}
		}
		return result
	}

	pending := make([]string, 0, len(uids))
	for _, uid := range uids {
		pending = append(pending, strconv.FormatUint(uint64(uid), 10))
	}

	if mailerr.IsAuth(err) || !c.Connected() {
		merge(&result, failAll(pending, err))
		return result
	}

	c.logger.Warn("bulk trash failed, falling back to single messages", "count", len(pending), "error", err)
	merge(&result, trashEach(ctx, pending, c.opts.Fallback, c.Trash))
	return result
}

// Restore clears \Deleted on the INBOX message and flags its trash copy,
// matched by Message-ID, for removal
func (c *ImapConnector) Restore(ctx context.Context, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}

	return c.withSession("restore", func(s imapSession) error {
		if err := selectMailbox(s, inboxMailbox, false); err != nil {
			return err
		}

		fetched, err := fetchMessages(s, []uint32{uid}, []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchFlags})
		if err != nil {
			return err
		}
		msg, ok := fetched[uid]
		if !ok {
			return c.notFound("restore", id)
		}
		if !slices.Contains(msg.Flags, imap.DeletedFlag) {
			return nil
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uid)
		item := imap.FormatFlagsOp(imap.RemoveFlags, true)
		if err := s.UidStore(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return fmt.Errorf("failed to clear deleted flag: %w", err)
		}

		if msg.Envelope == nil || msg.Envelope.MessageId == "" {
			c.logger.Warn("restored message has no Message-ID, trash copy left in place", "uid", uid)
			return nil
		}

		if err := selectMailbox(s, c.trash, false); err != nil {
			return err
		}
		criteria := imap.NewSearchCriteria()
		criteria.Header.Add("Message-Id", msg.Envelope.MessageId)
		criteria.WithoutFlags = []string{imap.DeletedFlag}
		copies, err := s.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("failed to find trash copy: %w", err)
		}
		if len(copies) == 0 {
			return nil
		}

		trashSet := new(imap.SeqSet)
		trashSet.AddNum(copies...)
		add := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := s.UidStore(trashSet, add, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return fmt.Errorf("failed to flag trash copy: %w", err)
		}
		return nil
	})
}

func (c *ImapConnector) notFound(op, id string) error {
	return &mailerr.ProviderError{
		Provider: string(c.account.Provider),
		Account:  c.account.ID,
		Op:       op,
		Err:      fmt.Errorf("message %s not found in %s", id, inboxMailbox),
	}
}

// Close logs out, forcing the connection closed if the server is slow
func (c *ImapConnector) Close() error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.Logout()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.Terminate()
	}
	return nil
}

var _ Connector = (*ImapConnector)(nil)
