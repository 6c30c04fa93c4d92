package evm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erpc/contractreads/clients"
	"github.com/erpc/contractreads/common"
	"github.com/erpc/contractreads/telemetry"
	"github.com/rs/zerolog"
)

// BlockTracker polls eth_blockNumber and notifies subscribers whenever the head moves forward.
type BlockTracker struct {
	appCtx    context.Context
	ctxCancel context.CancelFunc
	logger    *zerolog.Logger
	client    clients.JsonRpcClient
	chainId   int64
	interval  time.Duration

	latest atomic.Uint64

	mu          sync.RWMutex
	nextSubId   int
	subscribers map[int]func(uint64)
	started     bool
}

var _ BlockSubscriber = (*BlockTracker)(nil)

func NewBlockTracker(appCtx context.Context, logger *zerolog.Logger, client clients.JsonRpcClient, chainId int64, interval time.Duration) *BlockTracker {
	if interval <= 0 {
		interval = common.DefaultBlockTrackerPolling
	}
	lg := logger.With().Str("component", "blockTracker").Int64("chainId", chainId).Logger()
	return &BlockTracker{
		appCtx:      appCtx,
		logger:      &lg,
		client:      client,
		chainId:     chainId,
		interval:    interval,
		subscribers: make(map[int]func(uint64)),
	}
}

// Bootstrap fetches the current head once and starts polling in the background.
func (t *BlockTracker) Bootstrap(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	var pollCtx context.Context
	pollCtx, t.ctxCancel = context.WithCancel(t.appCtx)
	t.mu.Unlock()

	if err := t.Poll(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("initial block number fetch failed, will keep polling")
	}

	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				t.logger.Debug().Msg("shutting down block tracker due to context cancellation")
				return
			case <-ticker.C:
				if err := t.Poll(pollCtx); err != nil {
					t.logger.Warn().Err(err).Msg("failed to get latest block number in block tracker")
				}
			}
		}
	}()

	return nil
}

func (t *BlockTracker) Shutdown() {
	if t.ctxCancel != nil {
		t.ctxCancel()
	}
}

// Poll fetches the head once and notifies subscribers if it moved forward.
func (t *BlockTracker) Poll(ctx context.Context) error {
	ctx, span := common.StartDetailSpan(ctx, "BlockTracker.Poll")
	defer span.End()

	raw, err := t.client.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		common.SetTraceSpanError(span, err)
		return err
	}
	var hex string
	if err := common.SonicCfg.Unmarshal(raw, &hex); err != nil {
		return fmt.Errorf("eth_blockNumber result is not a string: %w", err)
	}
	bn, err := common.HexToUint64(hex)
	if err != nil {
		return err
	}
	t.SuggestLatestBlock(bn)
	return nil
}

// SuggestLatestBlock records bn as the head if it is newer and notifies subscribers.
func (t *BlockTracker) SuggestLatestBlock(bn uint64) {
	for {
		prev := t.latest.Load()
		if bn <= prev {
			return
		}
		if t.latest.CompareAndSwap(prev, bn) {
			break
		}
	}

	t.logger.Debug().Uint64("blockNumber", bn).Msg("new block")
	telemetry.GaugeHandle(telemetry.MetricLatestBlockNumber, telemetry.ChainLabel(t.chainId)).Set(float64(bn))

	t.mu.RLock()
	subs := make([]func(uint64), 0, len(t.subscribers))
	for _, fn := range t.subscribers {
		subs = append(subs, fn)
	}
	t.mu.RUnlock()

	for _, fn := range subs {
		fn(bn)
	}
}

func (t *BlockTracker) SubscribeNewBlock(fn func(blockNumber uint64)) func() {
	t.mu.Lock()
	id := t.nextSubId
	t.nextSubId++
	t.subscribers[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subscribers, id)
			t.mu.Unlock()
		})
	}
}

func (t *BlockTracker) LatestBlockNumber() uint64 {
	return t.latest.Load()
}
