package connector

import (
	"context"
	"fmt"
	"html"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Gmail system labels used by the connector
const (
	labelInbox  = "INBOX"
	labelTrash  = "TRASH"
	labelUnread = "UNREAD"
)

// GmailMessage is the metadata the connector needs from one Gmail message
type GmailMessage struct {
	ID       string
	LabelIDs []string
	From     string
	Subject  string
	Snippet  string
	Date     time.Time
}

// GmailAPI is the narrow Gmail surface the connector uses. It
// has no permanent delete: trash, untrash and label mutation only.
type GmailAPI interface {
	Profile(ctx context.Context) (string, error)
	InboxUnread(ctx context.Context) (int64, error)
	List(ctx context.Context, query, pageToken string, max int64) (ids []string, next string, err error)
	Metadata(ctx context.Context, id string) (*GmailMessage, error)
	Trash(ctx context.Context, id string) error
	Untrash(ctx context.Context, id string) error
	BatchModify(ctx context.Context, ids, addLabels, removeLabels []string) error
}

// gmailService implements GmailAPI with google.golang.org/api/gmail/v1
type gmailService struct {
	svc *gmail.Service
}

// NewGmailAPI builds a Gmail API client authorized by ts
func NewGmailAPI(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (GmailAPI, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return &gmailService{svc: svc}, nil
}

func (g *gmailService) Profile(ctx context.Context) (string, error) {
	p, err := g.svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return p.EmailAddress, nil
}

func (g *gmailService) InboxUnread(ctx context.Context) (int64, error) {
	l, err := g.svc.Users.Labels.Get("me", labelInbox).Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	return l.MessagesUnread, nil
}

func (g *gmailService) List(ctx context.Context, query, pageToken string, max int64) ([]string, string, error) {
	call := g.svc.Users.Messages.List("me").Q(query).MaxResults(max).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, "", err
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, resp.NextPageToken, nil
}

func (g *gmailService) Metadata(ctx context.Context, id string) (*GmailMessage, error) {
	m, err := g.svc.Users.Messages.Get("me", id).
		Format("metadata").
		MetadataHeaders("From", "Subject").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}

	msg := &GmailMessage{
		ID:       m.Id,
		LabelIDs: m.LabelIds,
		Snippet:  html.UnescapeString(m.Snippet),
		Date:     time.UnixMilli(m.InternalDate),
	}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			switch h.Name {
			case "From":
				msg.From = h.Value
			case "Subject":
				msg.Subject = h.Value
			}
		}
	}
	return msg, nil
}

func (g *gmailService) Trash(ctx context.Context, id string) error {
	_, err := g.svc.Users.Messages.Trash("me", id).Context(ctx).Do()
	return err
}

func (g *gmailService) Untrash(ctx context.Context, id string) error {
	_, err := g.svc.Users.Messages.Untrash("me", id).Context(ctx).Do()
	return err
}

func (g *gmailService) BatchModify(ctx context.Context, ids, addLabels, removeLabels []string) error {
	req := &gmail.BatchModifyMessagesRequest{
		Ids:            ids,
		AddLabelIds:    addLabels,
		RemoveLabelIds: removeLabels,
	}
	return g.svc.Users.Messages.BatchModify("me", req).Context(ctx).Do()
}
