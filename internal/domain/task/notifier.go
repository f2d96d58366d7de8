// Package task holds the queue-side domain logic: lease policy and the
// availability notifier shared by task workers.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/herald-notify/herald/internal/domain/model"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter waits for task availability notifications.
type Waiter interface {
	WaitForNotification(ctx context.Context, taskType model.TaskType) error
}

// Notifier manages subscriptions for task availability notifications. One
// listener goroutine per task type multiplexes the database notification
// stream to any number of worker subscribers.
type Notifier interface {
	Subscribe(taskType model.TaskType) (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configure the default notifier implementation.
type NotifierOptions struct {
	Waiter     Waiter
	WaitWindow time.Duration
	Backoff    time.Duration
}

// DefaultNotifier is the default implementation of Notifier.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu        sync.Mutex
	subs      map[model.TaskType]map[chan struct{}]struct{}
	listeners map[model.TaskType]context.CancelFunc
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}

	waitWindow := opts.WaitWindow
	if waitWindow <= 0 {
		waitWindow = time.Minute
	}

	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	return &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: waitWindow,
		backoff:    backoff,
		subs:       make(map[model.TaskType]map[chan struct{}]struct{}),
		listeners:  make(map[model.TaskType]context.CancelFunc),
	}, nil
}

// Subscribe registers interest in a task type. It returns an unsubscribe
// function and a channel that receives a signal whenever new tasks of that
// type may be available.
func (n *DefaultNotifier) Subscribe(taskType model.TaskType) (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.listeners[taskType]; !ok {
		ctx, cancel := context.WithCancel(context.Background())
		n.listeners[taskType] = cancel
		go n.listenLoop(ctx, taskType)
	}

	ch := make(chan struct{}, 1)
	if n.subs[taskType] == nil {
		n.subs[taskType] = make(map[chan struct{}]struct{})
	}
	n.subs[taskType][ch] = struct{}{}

	unsub := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		subscribers := n.subs[taskType]
		if subscribers == nil {
			return
		}

		if _, ok := subscribers[ch]; !ok {
			return
		}
		delete(subscribers, ch)
		drainAndClose(ch)
		if len(subscribers) == 0 {
			n.stopListener(taskType)
			delete(n.subs, taskType)
		}
	}

	return unsub, ch
}

// StopAll cancels every listener and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for taskType, cancel := range n.listeners {
		cancel()
		delete(n.listeners, taskType)
	}
	for taskType, subscribers := range n.subs {
		for ch := range subscribers {
			drainAndClose(ch)
		}
		delete(n.subs, taskType)
	}
}

func (n *DefaultNotifier) stopListener(taskType model.TaskType) {
	cancel, ok := n.listeners[taskType]
	if !ok {
		return
	}
	cancel()
	delete(n.listeners, taskType)
}

// listenLoop waits on the database notification channel in bounded windows.
// Every wakeup, timeout included, broadcasts to subscribers: a spurious wakeup
// costs one idle reservation attempt, a missed one would stall workers.
func (n *DefaultNotifier) listenLoop(ctx context.Context, taskType model.TaskType) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, taskType)
		cancel()

		n.broadcast(taskType)

		if err != nil && ctx.Err() == nil {
			timer := time.NewTimer(n.backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return
			case <-timer.C:
			}
		}
	}
}

func (n *DefaultNotifier) broadcast(taskType model.TaskType) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subscribers := n.subs[taskType]
	for ch := range subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// drainAndClose removes any buffered notifications before closing the channel
// so receivers observe a closed channel immediately.
func drainAndClose(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ Notifier = (*DefaultNotifier)(nil)
