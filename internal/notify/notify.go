// Package notify fans out store and search-list change events to interested
// parties, both in-process subscribers and external consumers.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"keyward/internal/keyring/models"
)

// Kind names what happened.
type Kind string

const (
	KindSearchListChanged Kind = "searchlist.changed"
	KindDefaultChanged    Kind = "default.changed"
	KindStoreAdded        Kind = "store.added"
	KindStoreRemoved      Kind = "store.removed"
	KindStoreRenamed      Kind = "store.renamed"
	KindPreferenceChanged Kind = "preference.changed"
)

// Event describes one change. Store is the identifier the event concerns;
// for list-level events it may be zero.
type Event struct {
	ID     uuid.UUID         `json:"id"`
	Kind   Kind              `json:"kind"`
	Domain string            `json:"domain,omitempty"`
	Store  models.Identifier `json:"store,omitzero"`
	At     time.Time         `json:"at"`
}

// NewEvent stamps an event with identity and time.
func NewEvent(kind Kind, domain string, store models.Identifier) Event {
	return Event{
		ID:     uuid.New(),
		Kind:   kind,
		Domain: domain,
		Store:  store,
		At:     time.Now().UTC(),
	}
}

// Notifier delivers events. Delivery failures are the caller's to handle;
// most call sites log and continue, change notifications are advisory.
type Notifier interface {
	Post(ctx context.Context, ev Event) error
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, ev Event) error

func (f Func) Post(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard drops every event.
var Discard = Func(func(context.Context, Event) error { return nil })

// InProcess delivers events synchronously to registered subscribers.
type InProcess struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewInProcess() *InProcess {
	return &InProcess{}
}

// Subscribe returns a channel receiving future events. The channel is
// buffered; subscribers that fall behind lose events rather than blocking
// the poster.
func (n *InProcess) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()
	return ch
}

func (n *InProcess) Post(_ context.Context, ev Event) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Multi posts to several notifiers in order, returning the first error after
// attempting all of them.
type Multi []Notifier

func (m Multi) Post(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.Post(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
