package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/erpc/contractreads/common"
	"github.com/erpc/contractreads/telemetry"
	"github.com/erpc/contractreads/util"
	"github.com/failsafe-go/failsafe-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type eventKind int

const (
	eventFetch eventKind = iota
	eventSuccess
	eventError
	eventCancelled
	eventInvalidated
	eventSetData
)

type event struct {
	kind eventKind
	data any
	err  error
}

// Query is one cache entry and the single place where its fetches run.
type Query struct {
	client *Client
	key    Key
	hash   string
	logger *zerolog.Logger

	mu        sync.Mutex
	state     State
	observers map[*Observer]*Options // nil options for disabled observers
	waiters   int
	cacheTime time.Duration
	gcTimer   *time.Timer

	fetchSeq       uint64
	cancelFetch    context.CancelFunc
	mux            *common.Multiplexer[any]
	refetchPending bool
}

func newQuery(c *Client, key Key, hash string) *Query {
	lg := c.logger.With().Str("queryHash", hash).Logger()
	return &Query{
		client:    c,
		key:       key,
		hash:      hash,
		logger:    &lg,
		state:     State{Status: StatusIdle, FetchStatus: FetchStatusIdle},
		observers: make(map[*Observer]*Options),
		cacheTime: c.cacheTime,
	}
}

func (q *Query) snapshot() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// fetch runs Fn once for every concurrent caller: the first caller starts it, later callers wait
// for the same result.
func (q *Query) fetch(ctx context.Context, opts *Options) (any, error) {
	mux, leader := common.AcquireMultiplexer[any](&q.client.inflight, q.hash)
	if !leader {
		telemetry.MetricQueryDedupTotal.Inc()
		q.logger.Debug().Msg("joining in-flight fetch")
		return mux.Wait(ctx)
	}

	q.start(mux, opts)
	return mux.Wait(ctx)
}

func (q *Query) start(mux *common.Multiplexer[any], opts *Options) {
	fetchCtx, cancel := context.WithCancel(q.client.appCtx)

	q.mu.Lock()
	q.fetchSeq++
	seq := q.fetchSeq
	q.cancelFetch = cancel
	q.mux = mux
	q.refetchPending = false
	q.state.FetchStatus = FetchStatusFetching
	if !q.state.hasData() {
		q.state.Status = StatusLoading
	}
	q.stopGC()
	q.mu.Unlock()

	q.logger.Debug().Msg("fetching query")
	q.notify(event{kind: eventFetch})

	go q.run(fetchCtx, cancel, seq, mux, opts)
}

func (q *Query) run(ctx context.Context, cancel context.CancelFunc, seq uint64, mux *common.Multiplexer[any], opts *Options) {
	defer cancel()
	ctx, span := common.StartSpan(ctx, "Query.Fetch",
		trace.WithAttributes(attribute.String("query.hash", q.hash)),
	)
	defer span.End()

	attempts := 0
	data, err := q.client.executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		attempts = exec.Attempts()
		if attempts > 1 {
			q.logger.Debug().Int("attempt", attempts).Msg("retrying query fetch")
		}
		return opts.Fn(exec.Context())
	})
	err = translateRetryError(err)

	q.mu.Lock()
	if seq != q.fetchSeq || ctx.Err() != nil {
		if seq == q.fetchSeq {
			q.cancelFetch = nil
			q.state.FetchStatus = FetchStatusIdle
			if !q.state.hasData() && q.state.Status == StatusLoading {
				q.state.Status = StatusIdle
			}
			q.maybeScheduleGC()
		}
		q.mu.Unlock()

		q.logger.Debug().Msg("discarding result of cancelled query fetch")
		telemetry.CounterHandle(telemetry.MetricQueryFetchTotal, "cancelled").Inc()
		mux.Close(ctx, nil, common.NewErrQueryCancelled(q.hash))
		common.ReleaseMultiplexer(&q.client.inflight, mux)
		q.notify(event{kind: eventCancelled})
		return
	}

	now := time.Now()
	q.cancelFetch = nil
	q.state.FetchStatus = FetchStatusIdle
	if err == nil {
		data = shareData(q.state.Data, data, opts)
		q.state.Data = data
		q.state.DataUpdatedAt = now
		q.state.Error = nil
		q.state.FetchFailureCount = 0
		q.state.Status = StatusSuccess
		q.state.IsInvalidated = false
	} else {
		common.SetTraceSpanError(span, err)
		q.state.Error = err
		q.state.ErrorUpdatedAt = now
		q.state.FetchFailureCount = attempts
		q.state.Status = StatusError
	}
	var refetchOpts *Options
	if q.refetchPending {
		refetchOpts = q.enabledOptionsLocked()
	}
	q.refetchPending = false
	q.maybeScheduleGC()
	q.mu.Unlock()

	if err == nil {
		telemetry.CounterHandle(telemetry.MetricQueryFetchTotal, "success").Inc()
		q.client.persist(q, opts, data)
		mux.Close(ctx, data, nil)
		common.ReleaseMultiplexer(&q.client.inflight, mux)
		q.notify(event{kind: eventSuccess, data: data})
	} else {
		telemetry.CounterHandle(telemetry.MetricQueryFetchTotal, "error").Inc()
		evt := q.logger.Debug().Int("attempts", attempts)
		var se common.StandardError
		if errors.As(err, &se) {
			evt = evt.Object("error", se.Base())
		} else {
			evt = evt.Err(err)
		}
		evt.Msg("query fetch failed")
		mux.Close(ctx, nil, err)
		common.ReleaseMultiplexer(&q.client.inflight, mux)
		q.notify(event{kind: eventError, err: err})
	}

	if refetchOpts != nil {
		go q.fetch(q.client.appCtx, refetchOpts)
	}
}

// shareData keeps prev when next is equal to it.
func shareData(prev, next any, opts *Options) any {
	if prev == nil {
		return next
	}
	if opts.IsDataEqual != nil {
		if opts.IsDataEqual(prev, next) {
			return prev
		}
		return next
	}
	if opts.StructuralSharing != nil {
		return opts.StructuralSharing(prev, next)
	}
	return DefaultStructuralSharing(prev, next)
}

// DefaultStructuralSharing returns prev when next is deep-equal to it, otherwise next with every
// deep-equal part replaced by the matching part of prev.
func DefaultStructuralSharing(prev, next any) any {
	if util.DeepEqual(prev, next) {
		return prev
	}
	return util.ReplaceEqualDeep(prev, next)
}

// invalidate marks the data stale and refetches when an enabled observer is watching. A fetch that
// is already running is followed by another one, as its result may predate the invalidation.
func (q *Query) invalidate() {
	q.mu.Lock()
	q.state.IsInvalidated = true
	fetching := q.state.FetchStatus == FetchStatusFetching
	opts := q.enabledOptionsLocked()
	if fetching {
		q.refetchPending = true
	}
	q.mu.Unlock()

	q.notify(event{kind: eventInvalidated})
	if !fetching && opts != nil {
		go q.fetch(q.client.appCtx, opts)
	}
}

func (q *Query) setData(data any) {
	q.mu.Lock()
	q.state.Data = data
	q.state.DataUpdatedAt = time.Now()
	q.state.Status = StatusSuccess
	q.state.Error = nil
	q.state.IsInvalidated = false
	q.maybeScheduleGC()
	q.mu.Unlock()

	q.notify(event{kind: eventSetData, data: data})
}

func (q *Query) addObserver(o *Observer, opts *Options) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observers[o] = enabledOnly(opts)
	if opts.CacheTime > q.cacheTime {
		q.cacheTime = opts.CacheTime
	}
	q.stopGC()
}

func (q *Query) updateObserver(o *Observer, opts *Options) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.observers[o]; ok {
		q.observers[o] = enabledOnly(opts)
	}
	q.releaseLocked()
}

func (q *Query) removeObserver(o *Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.observers, o)
	q.releaseLocked()
}

func enabledOnly(opts *Options) *Options {
	if opts == nil || !opts.Enabled {
		return nil
	}
	return opts
}

func (q *Query) addWaiter() {
	q.mu.Lock()
	q.waiters++
	q.stopGC()
	q.mu.Unlock()
}

func (q *Query) removeWaiter() {
	q.mu.Lock()
	q.waiters--
	q.releaseLocked()
	q.mu.Unlock()
}

// releaseLocked cancels the running fetch once nobody is interested in its result any more and
// schedules garbage collection.
func (q *Query) releaseLocked() {
	if q.cancelFetch != nil && q.waiters == 0 && q.enabledOptionsLocked() == nil {
		q.logger.Debug().Msg("cancelling query fetch, no consumer is left")
		q.cancelFetch()
		q.cancelFetch = nil
		// a later fetch must not join the cancelled one
		q.mux.Close(context.Background(), nil, common.NewErrQueryCancelled(q.hash))
		common.ReleaseMultiplexer(&q.client.inflight, q.mux)
	}
	q.maybeScheduleGC()
}

func (q *Query) enabledOptionsLocked() *Options {
	for _, opts := range q.observers {
		if opts != nil {
			return opts
		}
	}
	return nil
}

func (q *Query) maybeScheduleGC() {
	if len(q.observers) > 0 || q.waiters > 0 || q.state.FetchStatus == FetchStatusFetching {
		return
	}
	q.stopGC()
	q.gcTimer = time.AfterFunc(q.cacheTime, func() {
		q.client.collect(q)
	})
}

func (q *Query) stopGC() {
	if q.gcTimer != nil {
		q.gcTimer.Stop()
		q.gcTimer = nil
	}
}

func (q *Query) isCollectable() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.observers) == 0 && q.waiters == 0 && q.state.FetchStatus != FetchStatusFetching
}

func (q *Query) notify(evt event) {
	q.mu.Lock()
	observers := make([]*Observer, 0, len(q.observers))
	for o := range q.observers {
		observers = append(observers, o)
	}
	q.mu.Unlock()

	for _, o := range observers {
		o.onQueryUpdate(q, evt)
	}
}
