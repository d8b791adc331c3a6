package updatebus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/platform/internal/logger"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, logger.New("updatebus-test"))
}

func TestLocal_ReceivesPublishedSnapshot(t *testing.T) {
	bus := newTestBus(t)
	requestID := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.Local(ctx, requestID)

	snap := Snapshot{ID: requestID, Status: "processing"}
	require.NoError(t, bus.Publish(context.Background(), requestID, snap))

	select {
	case got := <-ch:
		assert.Equal(t, "processing", got.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local subscriber")
	}
}

func TestLocal_UnregistersOnContextCancel(t *testing.T) {
	bus := newTestBus(t)
	requestID := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	ch := bus.Local(ctx, requestID)
	cancel()

	// Give the unregister goroutine a moment to run, then confirm the
	// channel is closed.
	time.Sleep(50 * time.Millisecond)
	_, open := <-ch
	assert.False(t, open)
}

func TestFanOutLocal_DropsOnFullBuffer(t *testing.T) {
	bus := newTestBus(t)
	requestID := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.Local(ctx, requestID)

	// Fill the buffer without draining it.
	for i := 0; i < subscriberBufferSize+5; i++ {
		require.NoError(t, bus.Publish(context.Background(), requestID, Snapshot{ID: requestID}))
	}

	assert.Len(t, ch, subscriberBufferSize)
}
