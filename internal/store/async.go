package store

import (
	"context"
	"time"
)

// Async adapts any Store into a non-blocking facade: each call is submitted
// to a bounded worker pool and its result delivered over a channel rather
// than returned directly. Both the synchronous and async callers end up
// driving the same bbolt (or in-memory) calls underneath.
type Async struct {
	inner Store
	sem   chan struct{}
}

// NewAsync wraps inner with a worker pool bounded to maxConcurrent
// in-flight operations.
func NewAsync(inner Store, maxConcurrent int) *Async {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Async{inner: inner, sem: make(chan struct{}, maxConcurrent)}
}

// Result carries the outcome of one async store operation.
type Result struct {
	Value interface{}
	Err   error
}

func (a *Async) acquire(ctx context.Context) error {
	select {
	case a.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) release() { <-a.sem }

// submit runs fn on the worker pool and delivers its result on the returned
// channel, which is always sent to exactly once and then closed.
func (a *Async) submit(ctx context.Context, fn func() (interface{}, error)) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		if err := a.acquire(ctx); err != nil {
			out <- Result{Err: err}
			return
		}
		defer a.release()

		v, err := fn()
		out <- Result{Value: v, Err: err}
	}()
	return out
}

func (a *Async) StoreFeedItemAsync(ctx context.Context, item *FeedItem) <-chan Result {
	return a.submit(ctx, func() (interface{}, error) { return a.inner.StoreFeedItem(item) })
}

func (a *Async) StoreSignalValueAsync(ctx context.Context, v *SignalValue) <-chan Result {
	return a.submit(ctx, func() (interface{}, error) { return a.inner.StoreSignalValue(v) })
}

func (a *Async) StoreHypothesisEvaluationAsync(ctx context.Context, e *HypothesisEval) <-chan Result {
	return a.submit(ctx, func() (interface{}, error) { return a.inner.StoreHypothesisEvaluation(e) })
}

func (a *Async) GetFeedItemsAsync(ctx context.Context, source string, days, limit int) <-chan Result {
	return a.submit(ctx, func() (interface{}, error) { return a.inner.GetFeedItems(source, days, limit) })
}

func (a *Async) GetSignalHistoryAsync(ctx context.Context, signal string, days int, country string) <-chan Result {
	return a.submit(ctx, func() (interface{}, error) { return a.inner.GetSignalHistory(signal, days, country) })
}

func (a *Async) GetHypothesisHistoryAsync(ctx context.Context, hyp string, days int, country string) <-chan Result {
	return a.submit(ctx, func() (interface{}, error) { return a.inner.GetHypothesisHistory(hyp, days, country) })
}

func (a *Async) CleanupOldDataAsync(ctx context.Context, days int) <-chan Result {
	return a.submit(ctx, func() (interface{}, error) { return a.inner.CleanupOldData(days) })
}

// Inner returns the wrapped synchronous Store, for callers (e.g. the
// scheduler's backup job) that need direct access alongside the async path.
func (a *Async) Inner() Store { return a.inner }

// Wait blocks until every in-flight operation has released its slot or the
// context is done, useful at shutdown to drain outstanding work.
func (a *Async) Wait(ctx context.Context) error {
	for len(a.sem) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}
