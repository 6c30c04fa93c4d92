package reads

import (
	"context"
	"sync"
	"time"

	"github.com/erpc/contractreads/architecture/evm"
	"github.com/erpc/contractreads/common"
	"github.com/erpc/contractreads/query"
	"github.com/erpc/contractreads/util"
	"github.com/rs/zerolog"
)

// Config describes a batch of contract reads. The zero value of every optional field is a valid
// default.
type Config[T any] struct {
	// AllowFailure defaults to true: failing calls become CallError markers instead of failing
	// the whole batch.
	AllowFailure *bool
	// Scope is one of evm.AtBlockNumber, evm.AtBlockTag or evm.Watch; nil reads the latest block.
	Scope evm.BlockScope
	// CacheOnBlock pins the cached data to the current block number.
	CacheOnBlock bool
	Contracts    []evm.CallDescriptor
	// Enabled defaults to true.
	Enabled  *bool
	ScopeKey string

	// Select projects the decoded results. It is required unless T is []evm.CallResult.
	Select            func(results []evm.CallResult) T
	KeepPreviousData  bool
	IsDataEqual       func(prev, next []evm.CallResult) bool
	StructuralSharing func(prev, next []evm.CallResult) []evm.CallResult
	StaleTime         time.Duration
	CacheTime         time.Duration
	// Suspense makes New block until the first read settles.
	Suspense bool

	OnSuccess func(data T)
	OnError   func(err error)
	OnSettled func(data T, err error)
}

type Deps struct {
	Logger *zerolog.Logger
	Client *query.Client
	Reader evm.ContractsReader
	// Blocks is required by Watch and CacheOnBlock.
	Blocks evm.BlockSubscriber
	Chain  evm.ChainIdProvider
}

type Result[T any] struct {
	Data              T
	HasData           bool
	DataUpdatedAt     time.Time
	Error             error
	ErrorUpdatedAt    time.Time
	FetchFailureCount int
	Status            query.Status
	FetchStatus       query.FetchStatus
	IsStale           bool
	IsPreviousData    bool
}

func (r Result[T]) IsFetching() bool { return r.FetchStatus == query.FetchStatusFetching }
func (r Result[T]) IsLoading() bool  { return r.Status == query.StatusLoading }
func (r Result[T]) IsSuccess() bool  { return r.Status == query.StatusSuccess }
func (r Result[T]) IsError() bool    { return r.Status == query.StatusError }

// ContractReads keeps a batch of contract reads cached and up to date.
type ContractReads[T any] struct {
	deps   Deps
	logger *zerolog.Logger

	syncMu sync.Mutex

	mu          sync.Mutex
	cfg         Config[T]
	blockNumber uint64
	blockUnsub  func()
	enabled     bool
	key         QueryKey
	closed      bool

	enabledMemo util.Memo[EnabledArgs, bool]
	keyMemo     util.Memo[KeyArgs, QueryKey]

	observer    *query.Observer
	invalidator *BlockInvalidator

	selMu       sync.Mutex
	selBatch    *Batch
	selValue    T
	selectorGen int
	selGen      int
}

// New starts observing the batch described by cfg.
func New[T any](ctx context.Context, deps Deps, cfg Config[T]) (*ContractReads[T], error) {
	if err := validateConfig(deps, &cfg); err != nil {
		return nil, err
	}
	lg := deps.Logger.With().Str("component", "contractReads").Int("contracts", len(cfg.Contracts)).Logger()
	c := &ContractReads[T]{
		deps:        deps,
		logger:      &lg,
		cfg:         cfg,
		invalidator: NewBlockInvalidator(deps.Client, deps.Blocks),
	}

	c.mu.Lock()
	c.trackBlocksLocked()
	c.mu.Unlock()
	c.sync()

	if cfg.Suspense && c.Enabled() {
		if err := c.waitSettled(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func validateConfig[T any](deps Deps, cfg *Config[T]) error {
	if deps.Client == nil || deps.Reader == nil || deps.Logger == nil {
		return common.NewErrInvalidConfig("contract reads need a logger, a query client and a reader")
	}
	if cfg.Select == nil {
		var zero T
		if _, ok := any(zero).([]evm.CallResult); !ok {
			return common.NewErrInvalidConfig("select is required when the data type is not []evm.CallResult")
		}
	}
	if tag := evm.ScopeBlockTag(cfg.Scope); tag != "" {
		if _, err := evm.ParseBlockTag(tag); err != nil {
			return common.NewErrInvalidConfig(err.Error())
		}
	}
	if deps.Blocks == nil && (evm.ScopeWatch(cfg.Scope) || (cfg.CacheOnBlock && evm.ScopeBlockNumber(cfg.Scope) == 0)) {
		return common.NewErrInvalidConfig("watch and cacheOnBlock need a block subscriber")
	}
	return nil
}

func (c *ContractReads[T]) allowFailure() bool {
	return util.BoolValue(c.cfg.AllowFailure, true)
}

func (c *ContractReads[T]) chainId() int64 {
	if c.deps.Chain == nil {
		return 0
	}
	return c.deps.Chain.CurrentChainId()
}

// trackBlocksLocked follows the head when the resolved block number is needed. Without Watch
// the first known head is kept.
func (c *ContractReads[T]) trackBlocksLocked() {
	if c.blockUnsub != nil {
		c.blockUnsub()
		c.blockUnsub = nil
	}
	if !c.cfg.CacheOnBlock || evm.ScopeBlockNumber(c.cfg.Scope) != 0 {
		return
	}
	watch := evm.ScopeWatch(c.cfg.Scope)
	if c.blockNumber == 0 || watch {
		c.blockNumber = c.deps.Blocks.LatestBlockNumber()
	}
	if c.blockNumber != 0 && !watch {
		return
	}
	c.blockUnsub = c.deps.Blocks.SubscribeNewBlock(c.onBlock)
}

func (c *ContractReads[T]) onBlock(bn uint64) {
	c.mu.Lock()
	if c.closed || bn <= c.blockNumber {
		c.mu.Unlock()
		return
	}
	c.blockNumber = bn
	c.logger.Trace().Uint64("blockNumber", bn).Msg("resolved block number advanced")
	if !evm.ScopeWatch(c.cfg.Scope) && c.blockUnsub != nil {
		c.blockUnsub()
		c.blockUnsub = nil
	}
	c.mu.Unlock()

	c.sync()
}

// sync derives enablement and key from the current inputs and hands them to the observer.
// Subscribers are notified after syncMu is released, so they may call Update or Close.
func (c *ContractReads[T]) sync() {
	if emit := c.syncTarget(); emit != nil {
		emit()
	}
}

func (c *ContractReads[T]) syncTarget() (emit func()) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	cfg := c.cfg
	resolved := evm.ScopeBlockNumber(cfg.Scope)
	if resolved == 0 {
		resolved = c.blockNumber
	}

	enabled := c.enabledMemo.Get(EnabledArgs{
		BlockNumber:  resolved,
		CacheOnBlock: cfg.CacheOnBlock,
		Contracts:    cfg.Contracts,
		Enabled:      util.BoolValue(cfg.Enabled, true),
	}, IsEnabled)

	keyBlock := evm.ScopeBlockNumber(cfg.Scope)
	if cfg.CacheOnBlock {
		keyBlock = resolved
	}
	key := c.keyMemo.Get(KeyArgs{
		AllowFailure: c.allowFailure(),
		BlockNumber:  keyBlock,
		BlockTag:     evm.ScopeBlockTag(cfg.Scope),
		ChainId:      c.chainId(),
		Contracts:    cfg.Contracts,
		ScopeKey:     cfg.ScopeKey,
	}, BuildQueryKey)

	if c.observer == nil || !c.key.Equal(key) || c.enabled != enabled {
		c.logger.Debug().Str("queryHash", key.Hash()).Bool("enabled", enabled).Uint64("blockNumber", key.BlockNumber).Msg("contract reads target changed")
	}
	c.enabled = enabled
	c.key = key
	opts := c.optionsLocked(key, enabled)
	observer := c.observer
	if observer == nil {
		c.observer = c.deps.Client.Watch(opts)
	}
	c.mu.Unlock()

	if observer != nil {
		emit = observer.UpdateOptions(opts)
	}
	c.invalidator.Update(enabled && evm.ScopeWatch(cfg.Scope) && !cfg.CacheOnBlock, key)
	return emit
}

func (c *ContractReads[T]) optionsLocked(key QueryKey, enabled bool) query.Options {
	cfg := c.cfg
	calls := cfg.Contracts
	return query.Options{
		Key:               key,
		Fn:                fetchBatch(c.deps.Reader, key, calls),
		Enabled:           enabled,
		StaleTime:         cfg.StaleTime,
		CacheTime:         cfg.CacheTime,
		IsDataEqual:       batchEqual(cfg.IsDataEqual),
		StructuralSharing: shareBatch(cfg.StructuralSharing),
		KeepPreviousData:  cfg.KeepPreviousData,
		Dehydrate:         dehydrateBatch,
		Hydrate:           hydrateBatch(calls, key.AllowFailure),
		OnSuccess: func(data any) {
			if cfg.OnSuccess != nil {
				if b, ok := data.(*Batch); ok {
					cfg.OnSuccess(c.project(b))
				}
			}
			if cfg.OnSettled != nil {
				if b, ok := data.(*Batch); ok {
					cfg.OnSettled(c.project(b), nil)
				}
			}
		},
		OnError: func(err error) {
			if cfg.OnError != nil {
				cfg.OnError(err)
			}
			if cfg.OnSettled != nil {
				var zero T
				cfg.OnSettled(zero, err)
			}
		},
	}
}

// project applies Select once per batch, so an unchanged batch yields the same value.
func (c *ContractReads[T]) project(b *Batch) T {
	c.selMu.Lock()
	defer c.selMu.Unlock()
	if c.selBatch == b && c.selGen == c.selectorGen {
		return c.selValue
	}
	c.mu.Lock()
	sel := c.cfg.Select
	c.mu.Unlock()

	var value T
	if sel != nil {
		value = sel(b.Results)
	} else {
		value = any(b.Results).(T)
	}
	c.selBatch = b
	c.selGen = c.selectorGen
	c.selValue = value
	return value
}

func (c *ContractReads[T]) convert(r query.Result) Result[T] {
	out := Result[T]{
		DataUpdatedAt:     r.DataUpdatedAt,
		Error:             r.Error,
		ErrorUpdatedAt:    r.ErrorUpdatedAt,
		FetchFailureCount: r.FetchFailureCount,
		Status:            r.Status,
		FetchStatus:       r.FetchStatus,
		IsStale:           r.IsStale,
		IsPreviousData:    r.IsPreviousData,
	}
	if b, ok := r.Data.(*Batch); ok && b != nil {
		out.Data = c.project(b)
		out.HasData = true
	}
	return out
}

func (c *ContractReads[T]) currentObserver() *query.Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observer
}

// Result returns the current state of the batch.
func (c *ContractReads[T]) Result() Result[T] {
	return c.convert(c.currentObserver().Result())
}

// Subscribe calls fn with every new result until the returned function is called.
func (c *ContractReads[T]) Subscribe(fn func(Result[T])) (unsubscribe func()) {
	return c.currentObserver().Subscribe(func(r query.Result) {
		fn(c.convert(r))
	})
}

// Update replaces the configuration. A changed key moves to another cache entry.
func (c *ContractReads[T]) Update(cfg Config[T]) error {
	if err := validateConfig(c.deps, &cfg); err != nil {
		return err
	}
	c.selMu.Lock()
	c.selectorGen++
	c.selMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	prev := c.cfg
	c.cfg = cfg
	if prev.CacheOnBlock != cfg.CacheOnBlock || evm.ScopeWatch(prev.Scope) != evm.ScopeWatch(cfg.Scope) ||
		evm.ScopeBlockNumber(prev.Scope) != evm.ScopeBlockNumber(cfg.Scope) {
		c.trackBlocksLocked()
	}
	c.mu.Unlock()

	c.sync()
	return nil
}

// Refetch reads the batch now, even when it is disabled.
func (c *ContractReads[T]) Refetch(ctx context.Context) (Result[T], error) {
	r, err := c.currentObserver().Refetch(ctx)
	return c.convert(r), err
}

func (c *ContractReads[T]) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *ContractReads[T]) Key() QueryKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Close stops observing. A read that nothing else waits for is cancelled.
func (c *ContractReads[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.blockUnsub != nil {
		c.blockUnsub()
		c.blockUnsub = nil
	}
	observer := c.observer
	c.mu.Unlock()

	c.invalidator.Close()
	c.logger.Debug().Msg("contract reads closed")
	if observer != nil {
		observer.Close()
	}
}

func (c *ContractReads[T]) waitSettled(ctx context.Context) error {
	settled := func(r query.Result) bool {
		return r.Status == query.StatusSuccess || r.Status == query.StatusError
	}
	done := make(chan struct{}, 1)
	observer := c.currentObserver()
	unsubscribe := observer.Subscribe(func(r query.Result) {
		if settled(r) {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if settled(observer.Result()) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
