package apiclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshCoordinatorSingleFlight(t *testing.T) {
	const callers = 8
	metrics := NewCounterMetrics()
	coordinator := NewRefreshCoordinator(metrics)
	gate := make(chan struct{})
	var exchanges atomic.Int32

	exchange := func(context.Context) error {
		exchanges.Add(1)
		<-gate
		return nil
	}

	var leaders atomic.Int32
	results := make(chan error, callers)
	var group sync.WaitGroup
	for index := 0; index < callers; index++ {
		group.Add(1)
		go func() {
			defer group.Done()
			leader, err := coordinator.Refresh(context.Background(), exchange)
			if leader {
				leaders.Add(1)
			}
			results <- err
		}()
	}

	require.Eventually(t, func() bool { return coordinator.Waiting() == callers-1 }, time.Second, time.Millisecond)
	require.True(t, coordinator.InFlight())
	close(gate)
	group.Wait()
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), exchanges.Load())
	assert.Equal(t, int32(1), leaders.Load())
	assert.False(t, coordinator.InFlight())
	assert.Zero(t, coordinator.Waiting())
	assert.Equal(t, int64(1), metrics.Count(metricRefreshStarted))
	assert.Equal(t, int64(1), metrics.Count(metricRefreshSucceeded))
	assert.Equal(t, int64(callers-1), metrics.Count(metricRefreshQueued))
}

func TestRefreshCoordinatorReleasesWaitersInArrivalOrder(t *testing.T) {
	const waiters = 5
	coordinator := NewRefreshCoordinator(nil)
	var observedMutex sync.Mutex
	var observed []uint64
	coordinator.released = func(sequence uint64) {
		observedMutex.Lock()
		defer observedMutex.Unlock()
		observed = append(observed, sequence)
	}

	gate := make(chan struct{})
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		_, _ = coordinator.Refresh(context.Background(), func(context.Context) error {
			<-gate
			return nil
		})
	}()
	require.Eventually(t, coordinator.InFlight, time.Second, time.Millisecond)

	var group sync.WaitGroup
	for index := 1; index <= waiters; index++ {
		group.Add(1)
		go func() {
			defer group.Done()
			_, _ = coordinator.Refresh(context.Background(), func(context.Context) error {
				t.Errorf("waiter must not run its own exchange")
				return nil
			})
		}()
		expected := index
		require.Eventually(t, func() bool { return coordinator.Waiting() == expected }, time.Second, time.Millisecond)
	}

	close(gate)
	<-leaderDone
	group.Wait()

	observedMutex.Lock()
	defer observedMutex.Unlock()
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, observed)
}

func TestRefreshCoordinatorPropagatesFailureToWaiters(t *testing.T) {
	coordinator := NewRefreshCoordinator(nil)
	errBoom := errors.New("refresh endpoint down")
	gate := make(chan struct{})

	leaderResult := make(chan error, 1)
	go func() {
		_, err := coordinator.Refresh(context.Background(), func(context.Context) error {
			<-gate
			return errBoom
		})
		leaderResult <- err
	}()
	require.Eventually(t, coordinator.InFlight, time.Second, time.Millisecond)

	waiterResult := make(chan error, 1)
	go func() {
		_, err := coordinator.Refresh(context.Background(), func(context.Context) error { return nil })
		waiterResult <- err
	}()
	require.Eventually(t, func() bool { return coordinator.Waiting() == 1 }, time.Second, time.Millisecond)
	close(gate)

	assert.ErrorIs(t, <-leaderResult, errBoom)
	assert.ErrorIs(t, <-waiterResult, errBoom)
}

func TestRefreshCoordinatorWaiterContextCancellation(t *testing.T) {
	coordinator := NewRefreshCoordinator(nil)
	gate := make(chan struct{})
	leaderResult := make(chan error, 1)
	go func() {
		_, err := coordinator.Refresh(context.Background(), func(context.Context) error {
			<-gate
			return nil
		})
		leaderResult <- err
	}()
	require.Eventually(t, coordinator.InFlight, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	waiterResult := make(chan error, 1)
	go func() {
		_, err := coordinator.Refresh(ctx, func(context.Context) error { return nil })
		waiterResult <- err
	}()
	require.Eventually(t, func() bool { return coordinator.Waiting() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-waiterResult, context.Canceled)
	assert.True(t, coordinator.InFlight(), "leader must keep running after a waiter leaves")

	close(gate)
	assert.NoError(t, <-leaderResult)
	assert.False(t, coordinator.InFlight())
	assert.Zero(t, coordinator.Waiting())
}

func TestRefreshCoordinatorPanicReleasesWaiters(t *testing.T) {
	coordinator := NewRefreshCoordinator(nil)
	gate := make(chan struct{})
	leaderPanicked := make(chan bool, 1)
	go func() {
		defer func() { leaderPanicked <- recover() != nil }()
		_, _ = coordinator.Refresh(context.Background(), func(context.Context) error {
			<-gate
			panic("exchange exploded")
		})
	}()
	require.Eventually(t, coordinator.InFlight, time.Second, time.Millisecond)

	waiterResult := make(chan error, 1)
	go func() {
		_, err := coordinator.Refresh(context.Background(), func(context.Context) error { return nil })
		waiterResult <- err
	}()
	require.Eventually(t, func() bool { return coordinator.Waiting() == 1 }, time.Second, time.Millisecond)
	close(gate)

	assert.True(t, <-leaderPanicked)
	assert.ErrorIs(t, <-waiterResult, errRefreshAborted)
	assert.False(t, coordinator.InFlight())
}

func TestRefreshCoordinatorStartsNewBurstAfterSettlement(t *testing.T) {
	coordinator := NewRefreshCoordinator(nil)
	errRejected := errors.New("refresh rejected")
	var exchanges atomic.Int32

	leader, err := coordinator.Refresh(context.Background(), func(context.Context) error {
		exchanges.Add(1)
		return errRejected
	})
	require.ErrorIs(t, err, errRejected)
	assert.True(t, leader)

	leader, err = coordinator.Refresh(context.Background(), func(context.Context) error {
		exchanges.Add(1)
		return nil
	})
	require.NoError(t, err, "a settled failure must not be handed to later callers")
	assert.True(t, leader)
	assert.Equal(t, int32(2), exchanges.Load())
	assert.False(t, coordinator.InFlight())
}
