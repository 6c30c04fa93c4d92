package evm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erpc/contractreads/clients"
	"github.com/erpc/contractreads/common"
	"github.com/erpc/contractreads/telemetry"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	readModeMulticall3 = "multicall3"
	readModeIndividual = "individual"

	maxConcurrentIndividualCalls = 16
)

type ClientProvider interface {
	ClientForChain(chainId int64, currentChainId int64) (clients.JsonRpcClient, error)
}

// Reader sends contract reads over JSON-RPC, aggregating them through Multicall3 when possible.
type Reader struct {
	logger  *zerolog.Logger
	clients ClientProvider
	chain   ChainIdProvider

	multicall3Enabled  bool
	multicall3Address  gethcommon.Address
	multicall3MaxCalls int

	// chains where aggregate3 failed in a way that means the contract is not deployed
	multicall3Unavailable sync.Map
}

var _ ContractsReader = (*Reader)(nil)

func NewReader(logger *zerolog.Logger, clientProvider ClientProvider, chain ChainIdProvider, cfg *common.Multicall3Config) (*Reader, error) {
	lg := logger.With().Str("component", "contractsReader").Logger()
	r := &Reader{
		logger:             &lg,
		clients:            clientProvider,
		chain:              chain,
		multicall3Enabled:  true,
		multicall3Address:  gethcommon.HexToAddress(common.DefaultMulticall3Address),
		multicall3MaxCalls: common.DefaultMulticall3MaxCalls,
	}
	if cfg != nil {
		if cfg.Enabled != nil {
			r.multicall3Enabled = *cfg.Enabled
		}
		if cfg.Address != "" {
			if !gethcommon.IsHexAddress(cfg.Address) {
				return nil, common.NewErrInvalidConfig(fmt.Sprintf("invalid multicall3 address: %s", cfg.Address))
			}
			r.multicall3Address = gethcommon.HexToAddress(cfg.Address)
		}
		if cfg.MaxCalls > 0 {
			r.multicall3MaxCalls = cfg.MaxCalls
		}
	}
	return r, nil
}

type chainGroup struct {
	chainId int64
	indexes []int
	calls   []Multicall3Call
}

// ReadContracts reads every call, grouped by chain, and returns results in input order.
func (r *Reader) ReadContracts(ctx context.Context, params ReadContractsParams) ([]RawResult, error) {
	ctx, span := common.StartSpan(ctx, "Reader.ReadContracts",
		trace.WithAttributes(
			attribute.Int("calls", len(params.Contracts)),
			attribute.Bool("allowFailure", params.AllowFailure),
		),
	)
	defer span.End()

	results := make([]RawResult, len(params.Contracts))
	current := r.chain.CurrentChainId()

	var groups []*chainGroup
	byChain := map[int64]*chainGroup{}
	for i := range params.Contracts {
		call := &params.Contracts[i]
		chainId := call.ChainId
		if chainId == 0 {
			chainId = current
		}

		data, err := encodeCall(call)
		if err != nil {
			if !params.AllowFailure {
				common.SetTraceSpanError(span, err)
				return nil, NewCallEncodeFailed(i, call.FunctionName, err)
			}
			results[i] = RawResult{Success: false, Error: err}
			continue
		}

		g, ok := byChain[chainId]
		if !ok {
			g = &chainGroup{chainId: chainId}
			byChain[chainId] = g
			groups = append(groups, g)
		}
		g.indexes = append(g.indexes, i)
		g.calls = append(g.calls, Multicall3Call{
			Target:       call.Address,
			AllowFailure: params.AllowFailure,
			CallData:     data,
		})
	}

	block := blockParam(params.BlockNumber, params.BlockTag)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			client, err := r.clients.ClientForChain(g.chainId, current)
			if err != nil {
				return err
			}
			res, err := r.readChain(egCtx, client, g.chainId, g.calls, params.AllowFailure, block)
			if err != nil {
				return err
			}
			for j, idx := range g.indexes {
				results[idx] = res[j]
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		common.SetTraceSpanError(span, err)
		return nil, err
	}

	return results, nil
}

func (r *Reader) readChain(ctx context.Context, client clients.JsonRpcClient, chainId int64, calls []Multicall3Call, allowFailure bool, block string) ([]RawResult, error) {
	lg := r.logger.With().Int64("chainId", chainId).Str("block", block).Logger()
	telemetry.CounterHandle(telemetry.MetricReadCallsTotal, telemetry.ChainLabel(chainId)).Add(float64(len(calls)))

	if r.multicall3Enabled {
		if _, unavailable := r.multicall3Unavailable.Load(chainId); !unavailable {
			results, err := r.readViaMulticall3(ctx, client, chainId, calls, block)
			if err == nil {
				return results, nil
			}
			if ShouldFallbackMulticall3(err) {
				if block == "latest" {
					r.multicall3Unavailable.Store(chainId, true)
				}
				lg.Warn().Err(err).Msg("multicall3 is not usable on this chain, falling back to individual eth_call")
				telemetry.CounterHandle(telemetry.MetricMulticall3FallbackTotal, telemetry.ChainLabel(chainId), "unavailable").Inc()
			} else if isExecutionReverted(err) && !allowFailure {
				// one of the calls reverted; read them one by one to find out which
				lg.Debug().Err(err).Msg("aggregate3 reverted, reading calls individually to locate the failing call")
				telemetry.CounterHandle(telemetry.MetricMulticall3FallbackTotal, telemetry.ChainLabel(chainId), "reverted").Inc()
			} else {
				return nil, err
			}
		}
	}

	return r.readIndividually(ctx, client, chainId, calls, block)
}

func (r *Reader) readViaMulticall3(ctx context.Context, client clients.JsonRpcClient, chainId int64, calls []Multicall3Call, block string) ([]RawResult, error) {
	results := make([]RawResult, 0, len(calls))
	for start := 0; start < len(calls); start += r.multicall3MaxCalls {
		end := start + r.multicall3MaxCalls
		if end > len(calls) {
			end = len(calls)
		}
		chunk := calls[start:end]

		calldata, err := EncodeAggregate3(chunk)
		if err != nil {
			return nil, err
		}
		startedAt := time.Now()
		telemetry.CounterHandle(telemetry.MetricReadBatchTotal, telemetry.ChainLabel(chainId), readModeMulticall3).Inc()
		raw, err := ethCall(ctx, client, r.multicall3Address, calldata, block)
		telemetry.ObserverHandle(telemetry.MetricReadDuration, telemetry.ChainLabel(chainId), readModeMulticall3).Observe(time.Since(startedAt).Seconds())
		if err != nil {
			telemetry.CounterHandle(telemetry.MetricReadBatchErrorTotal, telemetry.ChainLabel(chainId), readModeMulticall3, errorLabel(err)).Inc()
			return nil, err
		}

		decoded, err := DecodeMulticall3Aggregate3Result(raw)
		if err != nil {
			return nil, common.NewErrMulticall3Unavailable(chainId, err)
		}
		if len(decoded) != len(chunk) {
			return nil, common.NewErrMulticall3Unavailable(chainId, fmt.Errorf("aggregate3 returned %d results for %d calls", len(decoded), len(chunk)))
		}
		results = append(results, decoded...)
	}

	r.logger.Debug().Int64("chainId", chainId).Int("calls", len(calls)).Msg("read contracts via multicall3")
	return results, nil
}

func (r *Reader) readIndividually(ctx context.Context, client clients.JsonRpcClient, chainId int64, calls []Multicall3Call, block string) ([]RawResult, error) {
	results := make([]RawResult, len(calls))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentIndividualCalls)

	for i, call := range calls {
		i, call := i, call
		eg.Go(func() error {
			startedAt := time.Now()
			telemetry.CounterHandle(telemetry.MetricReadBatchTotal, telemetry.ChainLabel(chainId), readModeIndividual).Inc()
			data, err := ethCall(egCtx, client, call.Target, call.CallData, block)
			telemetry.ObserverHandle(telemetry.MetricReadDuration, telemetry.ChainLabel(chainId), readModeIndividual).Observe(time.Since(startedAt).Seconds())
			if err == nil {
				results[i] = RawResult{Success: true, ReturnData: data}
				return nil
			}
			var rpcErr *common.ErrJsonRpcException
			if errors.As(err, &rpcErr) && rpcErr.IsExecutionReverted() {
				revertData, _ := hexutil.Decode(rpcErr.RpcData)
				results[i] = RawResult{Success: false, ReturnData: revertData}
				return nil
			}
			telemetry.CounterHandle(telemetry.MetricReadBatchErrorTotal, telemetry.ChainLabel(chainId), readModeIndividual, errorLabel(err)).Inc()
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	r.logger.Debug().Int64("chainId", chainId).Int("calls", len(calls)).Msg("read contracts individually")
	return results, nil
}

func ethCall(ctx context.Context, client clients.JsonRpcClient, to gethcommon.Address, data []byte, block string) ([]byte, error) {
	callObj := map[string]interface{}{
		"to":   to.Hex(),
		"data": hexutil.Encode(data),
	}
	raw, err := client.Call(ctx, "eth_call", []interface{}{callObj, block})
	if err != nil {
		var rpcErr *common.ErrJsonRpcException
		if errors.As(err, &rpcErr) && !rpcErr.IsExecutionReverted() && !ShouldFallbackMulticall3(rpcErr) {
			return nil, common.NewErrTransport(client.Endpoint(), err)
		}
		return nil, err
	}

	var hexResult string
	if err := common.SonicCfg.Unmarshal(raw, &hexResult); err != nil {
		return nil, common.NewErrTransport(client.Endpoint(), fmt.Errorf("eth_call result is not a string: %w", err))
	}
	out, err := hexutil.Decode(hexResult)
	if err != nil {
		return nil, common.NewErrTransport(client.Endpoint(), fmt.Errorf("eth_call result is not hex: %w", err))
	}
	return out, nil
}

func encodeCall(call *CallDescriptor) ([]byte, error) {
	if call.Abi == nil {
		return nil, fmt.Errorf("no abi for function %q", call.FunctionName)
	}
	return call.Abi.Pack(call.FunctionName, call.Args...)
}

func blockParam(blockNumber uint64, blockTag string) string {
	if blockNumber != 0 {
		return common.NormalizeHex(blockNumber)
	}
	if blockTag != "" {
		return blockTag
	}
	return "latest"
}

func isExecutionReverted(err error) bool {
	var rpcErr *common.ErrJsonRpcException
	return errors.As(err, &rpcErr) && rpcErr.IsExecutionReverted()
}

func errorLabel(err error) string {
	var se common.StandardError
	if errors.As(err, &se) {
		return string(se.Base().Code)
	}
	return "unknown"
}
