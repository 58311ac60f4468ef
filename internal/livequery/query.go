// Package livequery keeps a value fresh by polling a fetch function.
//
// Concurrent refreshes share one fetch. A failed refresh keeps the last good
// value and records the error. Stop is final: no state change or callback
// happens after it returns.
package livequery

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kolibri-omega/kolibri-studio/internal/metrics"
)

// ErrStopped is returned by Refresh on a stopped query.
var ErrStopped = errors.New("livequery: stopped")

// Fetcher loads the current value.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Options configure a Query.
type Options[T any] struct {
	// Interval enables polling when positive.
	Interval time.Duration
	Disabled bool
	// SkipImmediate suppresses the refresh Start normally runs at once.
	SkipImmediate bool
	InitialData   T
	OnError       func(error)
	// OnChange receives a copy of the state after every transition.
	OnChange func(State[T])
}

// State is a point-in-time view of a query.
type State[T any] struct {
	Data        T
	Err         error
	Loading     bool
	LastUpdated time.Time
}

// Query polls a fetcher. Callbacks run on the goroutine that performed the
// fetch and must not call Stop or SetEnabled.
type Query[T any] struct {
	fetch Fetcher[T]
	opts  Options[T]
	group singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State[T]
	enabled    bool
	started    bool
	stopped    bool
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	inflight   sync.WaitGroup
	parentCtx  context.Context
	now        func() time.Time
}

// New prepares a query. Nothing is fetched until Start or Refresh.
func New[T any](fetch Fetcher[T], opts Options[T]) *Query[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Query[T]{
		fetch:   fetch,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		state:   State[T]{Data: opts.InitialData},
		enabled: !opts.Disabled,
		now:     time.Now,
	}
}

// Start runs the immediate refresh and begins polling. The loop ends when ctx
// is done, on SetEnabled(false) or on Stop.
func (q *Query[T]) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true
	q.parentCtx = ctx
	if q.enabled {
		q.startLoopLocked(!q.opts.SkipImmediate)
	}
}

func (q *Query[T]) startLoopLocked(immediate bool) {
	loopCtx, cancel := context.WithCancel(q.parentCtx)
	stopOnQuery := context.AfterFunc(q.ctx, cancel)
	done := make(chan struct{})
	q.loopCancel = cancel
	q.loopDone = done

	go func() {
		defer close(done)
		defer stopOnQuery()
		if immediate {
			_, _ = q.Refresh(loopCtx)
		}
		if q.opts.Interval <= 0 {
			return
		}
		ticker := time.NewTicker(q.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if loopCtx.Err() != nil {
					return
				}
				_, _ = q.Refresh(loopCtx)
			}
		}
	}()
}

func (q *Query[T]) stopLoop() {
	q.mu.Lock()
	cancel, done := q.loopCancel, q.loopDone
	q.loopCancel, q.loopDone = nil, nil
	q.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// SetEnabled pauses or resumes the query. While disabled, Refresh returns the
// current data without fetching and no timer runs.
func (q *Query[T]) SetEnabled(enabled bool) {
	if !enabled {
		q.mu.Lock()
		q.enabled = false
		q.mu.Unlock()
		q.stopLoop()
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enabled || q.stopped {
		return
	}
	q.enabled = true
	if q.started && q.loopCancel == nil {
		q.startLoopLocked(!q.opts.SkipImmediate)
	}
}

// Stop ends polling for good and waits for any fetch in flight to settle.
// Results that arrive during teardown are discarded.
func (q *Query[T]) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	q.cancel()
	q.stopLoop()
	q.inflight.Wait()
}

// Refresh fetches now, or joins the fetch already in flight. Cancelling ctx
// only stops this caller from waiting; the shared fetch keeps going.
func (q *Query[T]) Refresh(ctx context.Context) (T, error) {
	q.mu.Lock()
	switch {
	case q.stopped:
		data := q.state.Data
		q.mu.Unlock()
		return data, ErrStopped
	case !q.enabled:
		data := q.state.Data
		q.mu.Unlock()
		return data, nil
	}
	q.mu.Unlock()

	ch := q.group.DoChan("refresh", func() (any, error) {
		return q.run()
	})
	select {
	case res := <-ch:
		data, _ := res.Val.(T)
		return data, res.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (q *Query[T]) run() (T, error) {
	q.mu.Lock()
	if q.stopped || !q.enabled {
		data := q.state.Data
		stopped := q.stopped
		q.mu.Unlock()
		if stopped {
			return data, ErrStopped
		}
		return data, nil
	}
	q.inflight.Add(1)
	q.state.Loading = true
	snapshot := q.state
	q.mu.Unlock()
	defer q.inflight.Done()
	q.notify(snapshot)

	start := q.now()
	data, err := q.fetch(q.ctx)
	metrics.ObserveRefresh(time.Since(start), err == nil)

	q.mu.Lock()
	q.state.Loading = false
	if q.stopped {
		current := q.state.Data
		q.mu.Unlock()
		return current, ErrStopped
	}
	if err != nil {
		q.state.Err = err
	} else {
		q.state.Data = data
		q.state.Err = nil
		q.state.LastUpdated = q.now()
	}
	snapshot = q.state
	q.mu.Unlock()

	if err != nil && q.opts.OnError != nil {
		q.opts.OnError(err)
	}
	q.notify(snapshot)
	if err != nil {
		return snapshot.Data, err
	}
	return data, nil
}

func (q *Query[T]) notify(s State[T]) {
	if q.opts.OnChange != nil {
		q.opts.OnChange(s)
	}
}

// Snapshot returns a copy of the current state.
func (q *Query[T]) Snapshot() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Query[T]) Data() T {
	return q.Snapshot().Data
}

func (q *Query[T]) Err() error {
	return q.Snapshot().Err
}

func (q *Query[T]) Loading() bool {
	return q.Snapshot().Loading
}

func (q *Query[T]) LastUpdated() time.Time {
	return q.Snapshot().LastUpdated
}
