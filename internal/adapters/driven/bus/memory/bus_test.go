package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestBus_Broadcast(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx := context.Background()

	a, err := bus.Subscribe(ctx, domain.SwapTopic)
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, domain.SwapTopic)
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, "other")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.SwapTopic, []byte("v-1")))

	assert.Equal(t, []byte("v-1"), receive(t, a.Messages()))
	assert.Equal(t, []byte("v-1"), receive(t, b.Messages()))
	select {
	case <-other.Messages():
		t.Fatal("message leaked to another topic")
	default:
	}
}

func TestBus_MissedWhileUnsubscribed(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, domain.SwapTopic, []byte("early")))

	sub, err := bus.Subscribe(ctx, domain.SwapTopic)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.SwapTopic, []byte("late")))

	assert.Equal(t, []byte("late"), receive(t, sub.Messages()))
}

func TestBus_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "t")
	require.NoError(t, err)
	for i := 0; i < DefaultBuffer+5; i++ {
		require.NoError(t, bus.Publish(ctx, "t", []byte{byte(i)}))
	}
	assert.Len(t, sub.Messages(), DefaultBuffer)
}

func TestBus_ContextCancelClosesSubscription(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx, "t")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Eventually(t, func() bool { return bus.Subscribers("t") == 0 }, time.Second, 10*time.Millisecond)
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, "t")
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	require.NoError(t, sub.Close())

	_, ok := <-sub.Messages()
	assert.False(t, ok)
	assert.ErrorIs(t, bus.Publish(ctx, "t", nil), domain.ErrBusUnavailable)
	_, err = bus.Subscribe(ctx, "t")
	assert.ErrorIs(t, err, domain.ErrBusUnavailable)
}
