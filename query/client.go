package query

import (
	"context"
	"sync"
	"time"

	"github.com/erpc/contractreads/common"
	"github.com/erpc/contractreads/data"
	"github.com/erpc/contractreads/telemetry"
	"github.com/failsafe-go/failsafe-go"
	"github.com/rs/zerolog"
)

// Client is a process-wide cache of queries. Each key has at most one fetch in flight;
// concurrent fetches of the same key share its result.
type Client struct {
	appCtx    context.Context
	logger    *zerolog.Logger
	staleTime time.Duration
	cacheTime time.Duration
	executor  failsafe.Executor[any]
	persister data.Connector

	mu       sync.Mutex
	queries  map[string]*Query
	inflight sync.Map
}

// NewClient creates a query client. cfg may be nil, persister may be nil to disable persistence.
func NewClient(appCtx context.Context, logger *zerolog.Logger, cfg *common.QueryClientConfig, persister data.Connector) *Client {
	lg := logger.With().Str("component", "queryClient").Logger()
	c := &Client{
		appCtx:    appCtx,
		logger:    &lg,
		cacheTime: common.DefaultQueryCacheTime,
		persister: persister,
		queries:   make(map[string]*Query),
	}

	var policies []failsafe.Policy[any]
	if cfg != nil {
		c.staleTime = cfg.StaleTime.Duration()
		c.cacheTime = cfg.CacheTime.WithDefault(common.DefaultQueryCacheTime)
		if cfg.Retry != nil {
			policies = append(policies, createRetryPolicy(cfg.Retry))
		}
	}
	c.executor = failsafe.NewExecutor[any](policies...)

	lg.Debug().Dur("staleTime", c.staleTime).Dur("cacheTime", c.cacheTime).Bool("persister", persister != nil).Msg("created query client")
	return c
}

func (c *Client) withDefaults(opts Options) *Options {
	if opts.StaleTime <= 0 {
		opts.StaleTime = c.staleTime
	}
	if opts.CacheTime <= 0 {
		opts.CacheTime = c.cacheTime
	}
	return &opts
}

// Fetch returns the cached data of opts.Key when it is fresh, otherwise fetches it. Enabled is
// ignored, an explicit fetch always runs.
func (c *Client) Fetch(ctx context.Context, opts Options) (any, error) {
	o := c.withDefaults(opts)
	q := c.build(o)

	st := q.snapshot()
	if !st.isStale(o.StaleTime) && st.FetchStatus != FetchStatusFetching {
		telemetry.MetricQueryCacheHitsTotal.Inc()
		return st.Data, nil
	}

	q.addWaiter()
	defer q.removeWaiter()
	return q.fetch(ctx, o)
}

// GetQueryData returns the cached data of key, if any.
func (c *Client) GetQueryData(key Key) (any, bool) {
	q := c.get(key)
	if q == nil {
		return nil, false
	}
	st := q.snapshot()
	return st.Data, st.hasData()
}

// GetQueryState returns a copy of the state of key.
func (c *Client) GetQueryState(key Key) (State, bool) {
	q := c.get(key)
	if q == nil {
		return State{}, false
	}
	return q.snapshot(), true
}

// SetQueryData replaces the cached data of key and notifies its observers.
func (c *Client) SetQueryData(key Key, data any) {
	q := c.build(&Options{Key: key, CacheTime: c.cacheTime})
	q.setData(data)
}

// Invalidate marks key stale. Enabled observers of key refetch in the background.
func (c *Client) Invalidate(key Key) {
	c.invalidate(key, "manual")
}

// InvalidateOnBlock is Invalidate triggered by a new block.
func (c *Client) InvalidateOnBlock(key Key, blockNumber uint64) {
	c.logger.Debug().Str("queryHash", key.Hash()).Uint64("blockNumber", blockNumber).Msg("invalidating query on new block")
	c.invalidate(key, "block")
}

func (c *Client) invalidate(key Key, source string) {
	q := c.get(key)
	if q == nil {
		return
	}
	telemetry.CounterHandle(telemetry.MetricQueryInvalidationsTotal, source).Inc()
	q.invalidate()
}

// Remove drops key from the cache and the persister, cancelling its fetch.
func (c *Client) Remove(key Key) {
	hash := key.Hash()
	c.mu.Lock()
	q, ok := c.queries[hash]
	if ok {
		delete(c.queries, hash)
	}
	count := len(c.queries)
	c.mu.Unlock()
	if !ok {
		return
	}
	telemetry.MetricQueryEntries.Set(float64(count))

	q.mu.Lock()
	q.stopGC()
	if q.cancelFetch != nil {
		q.cancelFetch()
		q.cancelFetch = nil
		q.mux.Close(context.Background(), nil, common.NewErrQueryCancelled(hash))
		common.ReleaseMultiplexer(&c.inflight, q.mux)
	}
	q.mu.Unlock()

	if c.persister != nil {
		if err := c.persister.Delete(c.appCtx, hash); err != nil {
			c.logger.Warn().Err(err).Str("queryHash", hash).Msg("failed to delete persisted query")
		}
	}
}

// QueryCount returns the number of cached queries.
func (c *Client) QueryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries)
}

func (c *Client) get(key Key) *Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries[key.Hash()]
}

// build returns the query of opts.Key, creating and hydrating it when missing.
func (c *Client) build(opts *Options) *Query {
	hash := opts.Key.Hash()
	c.mu.Lock()
	if q, ok := c.queries[hash]; ok {
		c.mu.Unlock()
		return q
	}
	c.mu.Unlock()

	q := newQuery(c, opts.Key, hash)
	if opts.CacheTime > q.cacheTime {
		q.cacheTime = opts.CacheTime
	}
	c.hydrate(q, opts)

	c.mu.Lock()
	if existing, ok := c.queries[hash]; ok {
		c.mu.Unlock()
		return existing
	}
	c.queries[hash] = q
	count := len(c.queries)
	c.mu.Unlock()

	telemetry.MetricQueryEntries.Set(float64(count))
	q.mu.Lock()
	q.maybeScheduleGC()
	q.mu.Unlock()
	return q
}

func (c *Client) collect(q *Query) {
	c.mu.Lock()
	if c.queries[q.hash] != q || !q.isCollectable() {
		c.mu.Unlock()
		return
	}
	delete(c.queries, q.hash)
	count := len(c.queries)
	c.mu.Unlock()

	telemetry.MetricQueryEntries.Set(float64(count))
	q.logger.Debug().Msg("garbage collected inactive query")
}

// hydrate seeds a new query with persisted data. Hydrated data is stale until refetched.
func (c *Client) hydrate(q *Query, opts *Options) {
	if c.persister == nil || !opts.persistable() {
		return
	}
	raw, err := c.persister.Get(c.appCtx, q.hash)
	if err != nil {
		if !common.HasErrorCode(err, common.ErrCodeRecordNotFound) {
			q.logger.Warn().Err(err).Msg("failed to read persisted query")
		}
		return
	}
	restored, err := opts.Hydrate(raw)
	if err != nil {
		q.logger.Warn().Err(err).Msg("failed to hydrate persisted query, ignoring it")
		return
	}
	q.state.Data = restored
	q.state.Status = StatusSuccess
	q.logger.Debug().Int("size", len(raw)).Msg("hydrated query from persister")
}

func (c *Client) persist(q *Query, opts *Options, value any) {
	if c.persister == nil || !opts.persistable() {
		return
	}
	raw, err := opts.Dehydrate(value)
	if err != nil {
		q.logger.Warn().Err(err).Msg("failed to dehydrate query data")
		return
	}
	if err := c.persister.Set(c.appCtx, q.hash, raw, opts.CacheTime); err != nil {
		q.logger.Warn().Err(err).Msg("failed to persist query data")
	}
}
