package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herald-notify/herald/internal/domain/model"
)

// fakeWaiter simulates the database notification stream: each WaitForNotification
// call blocks until released or the context ends.
type fakeWaiter struct {
	release chan struct{}
	calls   atomic.Int64
}

func newFakeWaiter() *fakeWaiter {
	return &fakeWaiter{release: make(chan struct{}, 16)}
}

func (w *fakeWaiter) WaitForNotification(ctx context.Context, _ model.TaskType) error {
	w.calls.Add(1)
	select {
	case <-w.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestNewNotifier_RequiresWaiter(t *testing.T) {
	_, err := NewNotifier(NotifierOptions{})
	assert.ErrorIs(t, err, ErrWaiterRequired)
}

func TestNotifier_SubscribeReceivesBroadcast(t *testing.T) {
	waiter := newFakeWaiter()
	n, err := NewNotifier(NotifierOptions{Waiter: waiter})
	require.NoError(t, err)
	defer n.StopAll()

	unsub, ch := n.Subscribe(model.TaskTypeFanOut)
	defer unsub()

	waiter.release <- struct{}{}

	select {
	case _, ok := <-ch:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not receive notification")
	}
}

func TestNotifier_BroadcastReachesAllSubscribers(t *testing.T) {
	waiter := newFakeWaiter()
	n, err := NewNotifier(NotifierOptions{Waiter: waiter})
	require.NoError(t, err)
	defer n.StopAll()

	unsub1, ch1 := n.Subscribe(model.TaskTypeShardPage)
	defer unsub1()
	unsub2, ch2 := n.Subscribe(model.TaskTypeShardPage)
	defer unsub2()

	waiter.release <- struct{}{}

	for i, ch := range []<-chan struct{}{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %d did not receive notification", i+1)
		}
	}
}

func TestNotifier_OneListenerPerTaskType(t *testing.T) {
	waiter := newFakeWaiter()
	n, err := NewNotifier(NotifierOptions{Waiter: waiter, Backoff: time.Millisecond})
	require.NoError(t, err)
	defer n.StopAll()

	unsub1, _ := n.Subscribe(model.TaskTypeFanOut)
	defer unsub1()
	unsub2, _ := n.Subscribe(model.TaskTypeFanOut)
	defer unsub2()

	// Give both subscriptions time to spin up listeners if they were going to.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), waiter.calls.Load(), "subscriptions of one type share a listener")
}

func TestNotifier_UnsubscribeClosesChannel(t *testing.T) {
	waiter := newFakeWaiter()
	n, err := NewNotifier(NotifierOptions{Waiter: waiter})
	require.NoError(t, err)
	defer n.StopAll()

	unsub, ch := n.Subscribe(model.TaskTypeFanOut)
	unsub()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// A second unsubscribe is harmless.
	unsub()
}

func TestNotifier_StopAllClosesSubscribers(t *testing.T) {
	waiter := newFakeWaiter()
	n, err := NewNotifier(NotifierOptions{Waiter: waiter})
	require.NoError(t, err)

	_, ch1 := n.Subscribe(model.TaskTypeFanOut)
	_, ch2 := n.Subscribe(model.TaskTypeShardPage)

	n.StopAll()

	for i, ch := range []<-chan struct{}{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after StopAll", i+1)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after StopAll", i+1)
		}
	}
}

func TestNotifier_TimeoutWakeupStillBroadcasts(t *testing.T) {
	// A wait window expiry must wake workers too: a missed notification
	// would otherwise stall the queue until the next enqueue.
	waiter := newFakeWaiter()
	n, err := NewNotifier(NotifierOptions{
		Waiter:     waiter,
		WaitWindow: 20 * time.Millisecond,
		Backoff:    time.Millisecond,
	})
	require.NoError(t, err)
	defer n.StopAll()

	unsub, ch := n.Subscribe(model.TaskTypeFanOut)
	defer unsub()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("wait window expiry did not wake subscriber")
	}
}
