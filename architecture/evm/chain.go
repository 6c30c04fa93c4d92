package evm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/erpc/contractreads/clients"
	"github.com/erpc/contractreads/common"
	"github.com/rs/zerolog"
)

// StaticChainId is a ChainIdProvider with a fixed value.
type StaticChainId int64

func (c StaticChainId) CurrentChainId() int64 {
	return int64(c)
}

// ChainIdResolver asks the default endpoint for its chain id once and caches it.
type ChainIdResolver struct {
	logger   *zerolog.Logger
	client   clients.JsonRpcClient
	chainId  atomic.Int64
	inflight sync.Map
}

var _ ChainIdProvider = (*ChainIdResolver)(nil)

func NewChainIdResolver(logger *zerolog.Logger, client clients.JsonRpcClient, configured int64) *ChainIdResolver {
	lg := logger.With().Str("component", "chainIdResolver").Logger()
	r := &ChainIdResolver{
		logger: &lg,
		client: client,
	}
	r.chainId.Store(configured)
	return r
}

// Resolve returns the chain id, calling eth_chainId when it is not known yet.
// Concurrent callers share one request.
func (r *ChainIdResolver) Resolve(ctx context.Context) (int64, error) {
	if id := r.chainId.Load(); id != 0 {
		return id, nil
	}
	return common.ExecuteMultiplexed(ctx, &r.inflight, "eth_chainId", func(ctx context.Context) (int64, error) {
		if id := r.chainId.Load(); id != 0 {
			return id, nil
		}
		raw, err := r.client.Call(ctx, "eth_chainId", nil)
		if err != nil {
			return 0, err
		}
		var hex string
		if err := common.SonicCfg.Unmarshal(raw, &hex); err != nil {
			return 0, fmt.Errorf("eth_chainId result is not a string: %w", err)
		}
		id, err := common.HexToUint64(hex)
		if err != nil {
			return 0, err
		}
		if id == 0 || id > uint64(1<<53) {
			return 0, fmt.Errorf("eth_chainId returned an invalid chain id: %s", hex)
		}
		r.chainId.Store(int64(id))
		r.logger.Info().Uint64("chainId", id).Msg("resolved chain id from rpc endpoint")
		return int64(id), nil
	})
}

// CurrentChainId returns the resolved chain id, or zero before Resolve succeeded.
func (r *ChainIdResolver) CurrentChainId() int64 {
	return r.chainId.Load()
}
