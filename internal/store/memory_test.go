package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryStoreGetSetRoundTrip(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	type payload struct {
		Strategy string  `json:"strategy"`
		Trust    float64 `json:"trust"`
	}

	require.NoError(t, Set(ctx, s, "trust:s1", payload{Strategy: "s1", Trust: 0.8}, 0))

	got, err := Get[payload](ctx, s, "trust:s1")
	require.NoError(t, err)
	require.Equal(t, "s1", got.Strategy)
	require.Equal(t, 0.8, got.Trust)
}

func TestMemoryStoreGetMissingKeyReturnsErrNotFound(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTTLExpires(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorePublishFansOutToSubscribers(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	ch, cancel := s.Subscribe("events")
	defer cancel()

	type event struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, Publish(ctx, s, "events", event{Kind: "drawdown"}))

	select {
	case got := <-ch:
		require.JSONEq(t, `{"kind":"drawdown"}`, string(got))
	case <-time.After(time.Second):
		t.Fatal("did not receive published message")
	}
}

func TestMemoryStorePublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	require.NoError(t, s.Publish(context.Background(), "nobody-listening", []byte("hi")))
}

func TestMemoryStoreUnsubscribeStopsDelivery(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	ch, cancel := s.Subscribe("events")
	cancel()

	require.NoError(t, s.Publish(ctx, "events", []byte("hi")))

	select {
	case _, ok := <-ch:
		require.False(t, ok, "channel should not receive after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
}
