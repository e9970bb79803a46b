package apiclient

import (
	"context"
	"errors"
	"sync"
)

var errRefreshAborted = errors.New("apiclient.refresh.aborted")

type refreshWaiter struct {
	sequence uint64
	outcome  chan error
}

// RefreshCoordinator serializes refresh exchanges. While one exchange is in
// flight, later callers queue and receive its outcome.
type RefreshCoordinator struct {
	mutex    sync.Mutex
	inFlight bool
	waiters  []refreshWaiter
	sequence uint64
	metrics  MetricsRecorder

	// released observes waiter sequence numbers as they are notified.
	released func(sequence uint64)
}

// NewRefreshCoordinator constructs an idle coordinator.
func NewRefreshCoordinator(metrics MetricsRecorder) *RefreshCoordinator {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &RefreshCoordinator{metrics: metrics}
}

// Refresh runs exchange when no exchange is in flight; otherwise it waits for
// the in-flight exchange to settle and returns that outcome. leader reports
// whether this caller ran the exchange. A waiter whose ctx ends first returns
// ctx.Err() and does not affect the exchange.
func (coordinator *RefreshCoordinator) Refresh(ctx context.Context, exchange func(context.Context) error) (leader bool, err error) {
	coordinator.mutex.Lock()
	if coordinator.inFlight {
		coordinator.sequence++
		waiter := refreshWaiter{sequence: coordinator.sequence, outcome: make(chan error, 1)}
		coordinator.waiters = append(coordinator.waiters, waiter)
		coordinator.mutex.Unlock()
		coordinator.metrics.Increment(metricRefreshQueued)
		select {
		case outcome := <-waiter.outcome:
			return false, outcome
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	coordinator.inFlight = true
	coordinator.mutex.Unlock()
	coordinator.metrics.Increment(metricRefreshStarted)

	outcome := errRefreshAborted
	defer func() { coordinator.release(outcome) }()
	outcome = exchange(ctx)
	return true, outcome
}

// InFlight reports whether an exchange is currently running.
func (coordinator *RefreshCoordinator) InFlight() bool {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	return coordinator.inFlight
}

// Waiting returns the number of queued callers.
func (coordinator *RefreshCoordinator) Waiting() int {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	return len(coordinator.waiters)
}

// release drains the queue and clears the flag under one lock, then notifies
// waiters in arrival order.
func (coordinator *RefreshCoordinator) release(outcome error) {
	coordinator.mutex.Lock()
	waiters := coordinator.waiters
	coordinator.waiters = nil
	coordinator.inFlight = false
	observe := coordinator.released
	coordinator.mutex.Unlock()

	if outcome == nil {
		coordinator.metrics.Increment(metricRefreshSucceeded)
	} else {
		coordinator.metrics.Increment(metricRefreshFailed)
	}
	for _, waiter := range waiters {
		if observe != nil {
			observe(waiter.sequence)
		}
		waiter.outcome <- outcome
	}
}
