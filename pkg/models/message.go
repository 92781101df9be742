package models

import "time"

// Message is a provider-neutral message summary
type Message struct {
	ID       string    `json:"id"`                   // Gmail message id or IMAP UID
	From     string    `json:"from"`                 // "Name <addr>" or addr
	Subject  string    `json:"subject"`
	Date     time.Time `json:"date"`
	Snippet  string    `json:"snippet"`
	IsUnread bool      `json:"is_unread"`
}

// AccountMessage is a message tagged with the account it came from
type AccountMessage struct {
	AccountID string `json:"account_id"`
	Message
}

// FailedItem records why a single message could not be processed
type FailedItem struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Kind   string `json:"kind,omitempty"` // auth, network, provider, validation
}

// DeletionResult is the outcome of one batch mutation
type DeletionResult struct {
	SucceededIDs []string     `json:"succeeded_ids"`
	Failed       []FailedItem `json:"failed"`
}

// Total returns the number of ids the result accounts for
func (r *DeletionResult) Total() int {
	return len(r.SucceededIDs) + len(r.Failed)
}

// AllFailed reports whether nothing succeeded
func (r *DeletionResult) AllFailed() bool {
	return len(r.SucceededIDs) == 0 && len(r.Failed) > 0
}
