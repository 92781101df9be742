package connector

import (
	"context"
	"errors"

	"github.com/mixelka/maildash/pkg/models"
)

// ErrCursorClosed is returned by Next after Close
var ErrCursorClosed = errors.New("cursor closed")

// PageFunc fetches the next page of results. more is false once the
// backend has nothing left.
type PageFunc func(ctx context.Context, want int) (msgs []models.Message, more bool, err error)

// Cursor is a lazy, finite, non-restartable sequence of messages. Pages are
// pulled from the backend only as Next needs them.
type Cursor struct {
	next  PageFunc
	limit int
	seen  int
	buf   []models.Message
	cur   models.Message
	more  bool
	err   error
}

// NewCursor returns a cursor yielding at most limit messages. A limit of
// zero or less means no limit.
func NewCursor(limit int, next PageFunc) *Cursor {
	return &Cursor{next: next, limit: limit, more: true}
}

// Next advances to the next message. It returns false when the sequence is
// exhausted, the limit is reached, or a page fetch failed (see Err).
func (c *Cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if c.limit > 0 && c.seen >= c.limit {
		return false
	}

	for len(c.buf) == 0 {
		if !c.more {
			return false
		}
		want := 0
		if c.limit > 0 {
			want = c.limit - c.seen
		}
		msgs, more, err := c.next(ctx, want)
		if err != nil {
			c.err = err
			return false
		}
		c.buf = msgs
		c.more = more
	}

	c.cur, c.buf = c.buf[0], c.buf[1:]
	c.seen++
	return true
}

// Message returns the current message
func (c *Cursor) Message() models.Message {
	return c.cur
}

// Err returns the error that stopped iteration, if any
func (c *Cursor) Err() error {
	if errors.Is(c.err, ErrCursorClosed) {
		return nil
	}
	return c.err
}

// Close stops the cursor. Later calls to Next return false.
func (c *Cursor) Close() {
	if c.err == nil {
		c.err = ErrCursorClosed
	}
	c.buf = nil
}

// Collect drains the cursor into a slice
func (c *Cursor) Collect(ctx context.Context) ([]models.Message, error) {
	var out []models.Message
	for c.Next(ctx) {
		out = append(out, c.Message())
	}
	return out, c.Err()
}
