package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyward/internal/keyring/models"
)

func TestNewEvent(t *testing.T) {
	store := models.Identifier{Provider: "memory", Path: "/rings/a"}
	ev := NewEvent(KindStoreAdded, "user", store)

	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.Equal(t, KindStoreAdded, ev.Kind)
	assert.Equal(t, "user", ev.Domain)
	assert.Equal(t, store, ev.Store)
	assert.False(t, ev.At.IsZero())
}

func TestInProcess_DeliversToAllSubscribers(t *testing.T) {
	n := NewInProcess()
	a := n.Subscribe()
	b := n.Subscribe()

	ev := NewEvent(KindSearchListChanged, "user", models.Identifier{})
	require.NoError(t, n.Post(context.Background(), ev))

	got := <-a
	assert.Equal(t, ev.ID, got.ID)
	got = <-b
	assert.Equal(t, ev.ID, got.ID)
}

func TestInProcess_SlowSubscriberDoesNotBlock(t *testing.T) {
	n := NewInProcess()
	n.Subscribe() // never drained

	// More events than the subscriber buffer holds; Post must not block.
	for i := 0; i < 100; i++ {
		require.NoError(t, n.Post(context.Background(), NewEvent(KindDefaultChanged, "user", models.Identifier{})))
	}
}

func TestMulti_PostsToAllAndReturnsFirstError(t *testing.T) {
	var calls []string
	failure := errors.New("down")

	m := Multi{
		Func(func(context.Context, Event) error {
			calls = append(calls, "first")
			return nil
		}),
		Func(func(context.Context, Event) error {
			calls = append(calls, "second")
			return failure
		}),
		Func(func(context.Context, Event) error {
			calls = append(calls, "third")
			return errors.New("also down")
		}),
	}

	err := m.Post(context.Background(), NewEvent(KindStoreRemoved, "", models.Identifier{}))
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard.Post(context.Background(), Event{}))
}
