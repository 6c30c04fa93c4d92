package clients

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/erpc/contractreads/common"
	"github.com/erpc/contractreads/util"
	"github.com/rs/zerolog"
)

// ClientRegistry hands out one JSON-RPC client per endpoint and resolves endpoints by chain id.
type ClientRegistry struct {
	appCtx  context.Context
	logger  *zerolog.Logger
	cfg     *common.RpcConfig
	clients sync.Map
	mu      sync.Mutex
}

func NewClientRegistry(appCtx context.Context, logger *zerolog.Logger, cfg *common.RpcConfig) *ClientRegistry {
	lg := logger.With().Str("component", "clientRegistry").Logger()
	return &ClientRegistry{
		appCtx: appCtx,
		logger: &lg,
		cfg:    cfg,
	}
}

// DefaultClient returns the client of the current chain's endpoint.
func (r *ClientRegistry) DefaultClient() (JsonRpcClient, error) {
	if r.cfg.Url == "" {
		return nil, common.NewErrInvalidConfig("rpc.url is not configured")
	}
	return r.GetOrCreateClient(r.cfg.Url)
}

// ClientForChain returns the client for chainId, using rpc.url when chainId is the current chain
// and no dedicated endpoint exists.
func (r *ClientRegistry) ClientForChain(chainId int64, currentChainId int64) (JsonRpcClient, error) {
	if ep, ok := r.cfg.Endpoints[chainId]; ok {
		return r.GetOrCreateClient(ep)
	}
	if chainId == currentChainId && r.cfg.Url != "" {
		return r.GetOrCreateClient(r.cfg.Url)
	}
	return nil, common.NewErrChainClientNotFound(chainId)
}

func (r *ClientRegistry) GetOrCreateClient(endpoint string) (JsonRpcClient, error) {
	if client, ok := r.clients.Load(endpoint); ok {
		return client.(JsonRpcClient), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients.Load(endpoint); ok {
		return client.(JsonRpcClient), nil
	}

	parsedUrl, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rpc endpoint: %w", err)
	}
	lg := r.logger.With().Str("endpoint", util.RedactEndpoint(endpoint)).Logger()
	client, err := NewGenericHttpJsonRpcClient(r.appCtx, &lg, parsedUrl, r.cfg)
	if err != nil {
		return nil, err
	}
	r.clients.Store(endpoint, client)
	r.logger.Debug().Str("endpoint", client.Endpoint()).Msg("created json rpc client")

	return client, nil
}
