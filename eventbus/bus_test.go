package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChannelBus_PublishAndDeliver(t *testing.T) {
	bus := NewChannelBus(zap.NewNop())
	defer bus.Stop()

	var mu sync.Mutex
	var got []Envelope
	done := make(chan struct{}, 2)

	bus.Subscribe("run_started", func(ev Envelope) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		done <- struct{}{}
	})

	err := bus.PublishBatch(context.Background(), []Envelope{
		{ID: "e1", Type: "run_started"},
		{ID: "e2", Type: "run_started"},
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 2)
}

func TestChannelBus_InterceptorVeto(t *testing.T) {
	bus := NewChannelBus(zap.NewNop())
	defer bus.Stop()

	bus.AddInterceptor(func(ev Envelope) bool {
		return ev.Type != "run_started"
	})

	err := bus.PublishBatch(context.Background(), []Envelope{{ID: "e1", Type: "run_started"}})
	assert.ErrorIs(t, err, ErrBlocked)

	// a mixed batch with at least one accepted envelope is not blocked
	err = bus.PublishBatch(context.Background(), []Envelope{
		{ID: "e2", Type: "run_started"},
		{ID: "e3", Type: "run_completed"},
	})
	assert.NoError(t, err)
}

func TestChannelBus_Unsubscribe(t *testing.T) {
	bus := NewChannelBus(zap.NewNop())
	defer bus.Stop()

	delivered := make(chan Envelope, 1)
	id := bus.Subscribe("x", func(ev Envelope) { delivered <- ev })
	bus.Unsubscribe(id)

	require.NoError(t, bus.PublishBatch(context.Background(), []Envelope{{ID: "e1", Type: "x"}}))

	select {
	case <-delivered:
		t.Fatal("handler called after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelBus_EmptyBatch(t *testing.T) {
	bus := NewChannelBus(zap.NewNop())
	defer bus.Stop()

	assert.NoError(t, bus.PublishBatch(context.Background(), nil))
}

func TestChannelBus_StopIsIdempotent(t *testing.T) {
	bus := NewChannelBus(zap.NewNop())
	bus.Stop()
	bus.Stop()
}
