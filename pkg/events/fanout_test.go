package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsa110/taskq/pkg/events"
)

func TestFanout_Publish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := events.NewFanout(4)
	t.Cleanup(func() { _ = f.Close() })

	all := f.Subscribe(ctx, "")
	imaging := f.Subscribe(ctx, "imaging")
	require.Equal(t, 2, f.Len())

	require.NoError(t, f.Publish(ctx, events.Event{Type: events.TypeTaskUpdate, Queue: "imaging"}))
	require.NoError(t, f.Publish(ctx, events.Event{Type: events.TypeTaskUpdate, Queue: "calibration"}))

	assert.Equal(t, "imaging", (<-all.Events()).Queue)
	assert.Equal(t, "calibration", (<-all.Events()).Queue)
	assert.Equal(t, "imaging", (<-imaging.Events()).Queue)
	assert.Empty(t, imaging.Events())
	assert.Equal(t, "imaging", imaging.Queue())
}

func TestFanout_DropsSlowSubscriber(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := events.NewFanout(1)
	t.Cleanup(func() { _ = f.Close() })

	slow := f.Subscribe(ctx, "")
	require.NoError(t, f.Publish(ctx, events.Event{Queue: "a"}))
	require.NoError(t, f.Publish(ctx, events.Event{Queue: "b"}))

	require.Eventually(t, func() bool { return f.Len() == 0 }, time.Second, 10*time.Millisecond)

	first, ok := <-slow.Events()
	require.True(t, ok)
	assert.Equal(t, "a", first.Queue)
	_, ok = <-slow.Events()
	assert.False(t, ok, "channel closed after the subscriber was dropped")
}

func TestFanout_ContextCancelUnsubscribes(t *testing.T) {
	t.Parallel()

	f := events.NewFanout(1)
	t.Cleanup(func() { _ = f.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	sub := f.Subscribe(ctx, "")
	cancel()

	require.Eventually(t, func() bool { return f.Len() == 0 }, time.Second, 10*time.Millisecond)
	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestFanout_Close(t *testing.T) {
	t.Parallel()

	f := events.NewFanout(1)
	sub := f.Subscribe(context.Background(), "")

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, ok := <-sub.Events()
	assert.False(t, ok)

	late := f.Subscribe(context.Background(), "")
	_, ok = <-late.Events()
	assert.False(t, ok)
	assert.NoError(t, f.Publish(context.Background(), events.Event{}))
	assert.NoError(t, sub.Close())
}

func TestFanout_CloseWithLiveContexts(t *testing.T) {
	t.Parallel()

	f := events.NewFanout(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = f.Subscribe(ctx, "")

	done := make(chan struct{})
	go func() {
		_ = f.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a subscription whose context is still live")
	}
}
