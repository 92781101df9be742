// Package notify posts digests and batch reports to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/mixelka/maildash/internal/manager"
	"github.com/mixelka/maildash/pkg/models"
)

const (
	digestRecent = 10
	sendTimeout  = 15 * time.Second
)

// Sender is the part of *bot.Bot the notifier uses
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// Source provides the data a digest is built from
type Source interface {
	GetAccountSummary() []manager.AccountSummary
	GetUnreadCounts(ctx context.Context) manager.UnreadCountResult
	RecentAcrossAccounts(ctx context.Context, limit int) manager.MessagesResult
}

// Notifier sends formatted messages to one chat
type Notifier struct {
	sender    Sender
	chatID    int64
	formatter *Formatter
	logger    *slog.Logger
}

// New connects to the Bot API with token
func New(token string, chatID int64, logger *slog.Logger) (*Notifier, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewWithSender(b, chatID, logger), nil
}

// NewWithSender creates a notifier over an existing sender
func NewWithSender(sender Sender, chatID int64, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sender:    sender,
		chatID:    chatID,
		formatter: NewFormatter(),
		logger:    logger.With("component", "notifier"),
	}
}

// SendDigest posts unread counts and the newest messages across accounts
func (n *Notifier) SendDigest(ctx context.Context, src Source) error {
	unread := src.GetUnreadCounts(ctx)
	recent := src.RecentAcrossAccounts(ctx, digestRecent)

	text := n.formatter.FormatDigest(src.GetAccountSummary(), unread, recent.Messages)
	if err := n.send(ctx, text); err != nil {
		return err
	}
	n.logger.Info("digest sent", "unread", unread.Total)
	return nil
}

// BatchCompleted reports a finished batch. It is meant as a deletion
// completion hook and never blocks the batch for longer than sendTimeout.
func (n *Notifier) BatchCompleted(b models.Batch) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := n.send(ctx, n.formatter.FormatBatch(b)); err != nil {
		n.logger.Warn("failed to report batch", "batch_id", b.ID, "error", err)
	}
}

// RunDigests sends a digest every interval until ctx is cancelled
func (n *Notifier) RunDigests(ctx context.Context, src Source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.SendDigest(ctx, src); err != nil {
				n.logger.Error("failed to send digest", "error", err)
			}
		}
	}
}

func (n *Notifier) send(ctx context.Context, text string) error {
	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
