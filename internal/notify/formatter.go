package notify

import (
	"fmt"
	"strings"

	"github.com/mixelka/maildash/internal/manager"
	"github.com/mixelka/maildash/pkg/models"
)

// maxMessageLength leaves room under Telegram's 4096 limit for markup
const maxMessageLength = 4000

const omittedFormat = "<i>... %d more</i>\n"

// omitted reserves room for the longest omittedFormat line
var omitted = fmt.Sprintf(omittedFormat, 100000)

// Formatter renders digests and batch reports as Telegram HTML
type Formatter struct {
	maxLength int
}

// NewFormatter creates a formatter
func NewFormatter() *Formatter {
	return &Formatter{maxLength: maxMessageLength}
}

// FormatDigest renders account status, unread counts and the newest messages
func (f *Formatter) FormatDigest(summary []manager.AccountSummary, unread manager.UnreadCountResult, recent []models.AccountMessage) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("<b>Unread:</b> %d\n\n", unread.Total))

	for _, s := range summary {
		line := fmt.Sprintf("%s %s", statusIcon(s.Status), f.escapeHTML(s.Name))
		if uc, ok := unread.PerAccount[s.AccountID]; ok {
			switch {
			case uc.Count != nil:
				line += fmt.Sprintf(": %d", *uc.Count)
			case uc.Error != nil:
				line += " <i>(count unavailable)</i>"
			}
		} else if s.LastError != "" {
			line += fmt.Sprintf(" <i>%s</i>", f.escapeHTML(s.LastError))
		}
		sb.WriteString(line + "\n")
	}

	if len(recent) > 0 {
		sb.WriteString("\n<b>Recent:</b>\n")
		for _, m := range recent {
			entry := fmt.Sprintf("• [%s] <b>%s</b> %s\n",
				f.escapeHTML(m.AccountID), f.escapeHTML(m.Subject), f.escapeHTML(m.From))
			if sb.Len()+len(entry) > f.maxLength {
				sb.WriteString("<i>...</i>")
				break
			}
			sb.WriteString(entry)
		}
	}

	return sb.String()
}

// FormatBatch renders the outcome of a finished batch
func (f *Formatter) FormatBatch(b models.Batch) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("<b>%s %s</b> on %s\n", strings.ToUpper(string(b.Operation)), b.State, f.escapeHTML(b.AccountID)))
	if b.Result != nil {
		sb.WriteString(fmt.Sprintf("Succeeded: %d, failed: %d\n", len(b.Result.SucceededIDs), len(b.Result.Failed)))
	}
	if b.Error != "" {
		sb.WriteString(fmt.Sprintf("<i>%s</i>\n", f.escapeHTML(b.Error)))
	}
	footer := fmt.Sprintf("\n<code>%s</code>", f.escapeHTML(b.ID))
	if b.Result != nil && len(b.Result.Failed) > 0 {
		sb.WriteString("\n<b>Failures:</b>\n")
		// lines are escaped before measuring so entities are never split
		budget := f.maxLength - sb.Len() - len(footer) - len(omitted)
		for i, item := range b.Result.Failed {
			line := f.escapeHTML(fmt.Sprintf("%s: %s", item.ID, item.Reason)) + "\n"
			if len(line) > budget {
				sb.WriteString(fmt.Sprintf(omittedFormat, len(b.Result.Failed)-i))
				break
			}
			sb.WriteString(line)
			budget -= len(line)
		}
	}
	sb.WriteString(footer)

	return sb.String()
}

func statusIcon(status string) string {
	switch status {
	case manager.StatusConnected:
		return "🟢"
	case manager.StatusFailed:
		return "🔴"
	case manager.StatusPending:
		return "🟡"
	default:
		return "⚪"
	}
}

// escapeHTML escapes HTML special characters for Telegram
func (f *Formatter) escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
