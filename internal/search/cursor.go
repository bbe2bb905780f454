package search

import (
	"context"
	"errors"

	"keyward/internal/keyring"
	"keyward/internal/keyring/models"
	"keyward/pkg/platform/sentinel"
)

// Item is one cursor result: the matching record plus the handle of the
// store it came from, so callers can write back to the right place.
type Item struct {
	Record models.Record
	Store  *keyring.Handle
}

// Cursor iterates matching records across an ordered list of stores. Stores
// are queried lazily, one at a time, in list order. A store that fails to
// search (locked, unavailable, gone) is skipped and the scan advances; the
// last such failure is surfaced only if every store failed, so "no usable
// store at all" is distinguishable from "searched fine, found nothing".
type Cursor struct {
	stores []*keyring.Handle
	query  models.Query

	pos     int
	batch   []models.Record
	current *keyring.Handle

	searched  bool
	allFailed bool
	lastErr   error
}

// NewCursor builds a cursor over stores in their given order. The order is
// part of the contract; precedence-sensitive lookups depend on it.
func NewCursor(stores []*keyring.Handle, q models.Query) *Cursor {
	return &Cursor{stores: stores, query: q, allFailed: true}
}

// Next returns the next matching record. The second result is false at end
// of sequence; the error is non-nil only for the all-stores-failed case, and
// only at end of sequence.
func (c *Cursor) Next(ctx context.Context) (Item, bool, error) {
	for {
		if len(c.batch) > 0 {
			item := Item{Record: c.batch[0], Store: c.current}
			c.batch = c.batch[1:]
			return item, true, nil
		}
		if c.pos >= len(c.stores) {
			if c.searched && c.allFailed && c.lastErr != nil {
				return Item{}, false, c.lastErr
			}
			return Item{}, false, nil
		}

		h := c.stores[c.pos]
		c.pos++
		c.searched = true

		records, err := h.Search(ctx, c.query)
		if err != nil {
			if !recoverable(err) {
				return Item{}, false, err
			}
			c.lastErr = err
			continue
		}
		c.allFailed = false
		c.batch = records
		c.current = h
	}
}

// All drains the cursor into a slice.
func (c *Cursor) All(ctx context.Context) ([]Item, error) {
	var out []Item
	for {
		item, ok, err := c.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, item)
	}
}

// recoverable reports whether a per-store search failure should be skipped.
// Context cancellation is the one thing that must abort the whole scan.
func recoverable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// First returns the first matching item across the stores, or ErrNotFound.
// The all-failed error takes precedence over ErrNotFound.
func First(ctx context.Context, stores []*keyring.Handle, q models.Query) (Item, error) {
	cursor := NewCursor(stores, q)
	item, ok, err := cursor.Next(ctx)
	if err != nil {
		return Item{}, err
	}
	if !ok {
		return Item{}, sentinel.ErrNotFound
	}
	return item, nil
}
