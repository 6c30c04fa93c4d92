package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/erpc/contractreads/architecture/evm"
	"github.com/erpc/contractreads/clients"
	"github.com/erpc/contractreads/common"
	"github.com/erpc/contractreads/data"
	"github.com/erpc/contractreads/query"
	"github.com/erpc/contractreads/reads"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

func run(ctx context.Context, fsys afero.Fs, logger *zerolog.Logger, cfg *common.Config) error {
	if err := common.InitializeTracing(ctx, logger, cfg.Tracing); err != nil {
		logger.Warn().Err(err).Msg("failed to initialize tracing, continuing without it")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := common.ShutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	if cfg.Metrics != nil && cfg.Metrics.Enabled != nil && *cfg.Metrics.Enabled {
		startMetricsServer(ctx, logger, cfg.Metrics)
	}

	logger.Debug().Object("rpc", cfg.Rpc).Msg("configuring json rpc clients")
	registry := clients.NewClientRegistry(ctx, logger, cfg.Rpc)
	defaultClient, err := registry.DefaultClient()
	if err != nil {
		return err
	}

	chain := evm.NewChainIdResolver(logger, defaultClient, cfg.ChainId)
	chainId, err := chain.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve chain id: %w", err)
	}
	logger.Info().Int64("chainId", chainId).Msg("resolved current chain")

	reader, err := evm.NewReader(logger, registry, chain, cfg.Multicall3)
	if err != nil {
		return err
	}

	tracker := evm.NewBlockTracker(ctx, logger, defaultClient, chainId, cfg.BlockTracker.Interval.Duration())
	if err := tracker.Bootstrap(ctx); err != nil {
		return err
	}
	defer tracker.Shutdown()

	var persister data.Connector
	if cfg.Persister != nil && cfg.Persister.Driver != common.DriverNone {
		persister, err = data.NewConnector(ctx, logger, cfg.Persister)
		if err != nil {
			return fmt.Errorf("failed to create persister: %w", err)
		}
		logger.Info().Object("persister", cfg.Persister).Msg("persisting successful reads")
		defer persister.Close()
	}

	deps := reads.Deps{
		Logger: logger,
		Client: query.NewClient(ctx, logger, cfg.QueryClient, persister),
		Reader: reader,
		Blocks: tracker,
		Chain:  chain,
	}

	for _, rc := range cfg.Reads {
		cr, err := startReads(ctx, fsys, logger, deps, rc)
		if err != nil {
			return fmt.Errorf("reads[%s]: %w", rc.Id, err)
		}
		defer cr.Close()
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}

func startReads(ctx context.Context, fsys afero.Fs, logger *zerolog.Logger, deps reads.Deps, rc *common.ReadsConfig) (*reads.ContractReads[[]evm.CallResult], error) {
	calls, err := evm.CallsFromConfig(fsys, rc.Contracts)
	if err != nil {
		return nil, err
	}
	lg := logger.With().Str("reads", rc.Id).Logger()

	cr, err := reads.New(ctx, deps, reads.Config[[]evm.CallResult]{
		AllowFailure: rc.AllowFailure,
		Scope:        scopeFromConfig(rc),
		CacheOnBlock: rc.CacheOnBlock,
		Contracts:    calls,
		ScopeKey:     rc.ScopeKey,
		StaleTime:    rc.StaleTime.Duration(),
		OnError: func(err error) {
			lg.Warn().Err(err).Msg("contract reads failed")
		},
	})
	if err != nil {
		return nil, err
	}
	cr.Subscribe(func(r reads.Result[[]evm.CallResult]) {
		logResult(&lg, calls, r)
	})
	return cr, nil
}

func scopeFromConfig(rc *common.ReadsConfig) evm.BlockScope {
	switch {
	case rc.BlockNumber != 0:
		return evm.AtBlockNumber(rc.BlockNumber)
	case rc.BlockTag != "":
		return evm.AtBlockTag(rc.BlockTag)
	case rc.Watch:
		return evm.Watch(true)
	}
	return nil
}

func logResult(logger *zerolog.Logger, calls []evm.CallDescriptor, r reads.Result[[]evm.CallResult]) {
	if !r.HasData || r.IsFetching() {
		return
	}
	for i, res := range r.Data {
		evt := logger.Info().Object("call", &calls[i])
		if res.IsSuccess() {
			evt.Interface("result", res.Result).Msg("contract read")
		} else {
			evt.Err(res.Error).Msg("contract read failed")
		}
	}
}

func startMetricsServer(ctx context.Context, logger *zerolog.Logger, cfg *common.MetricsConfig) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	logger.Info().Msgf("starting metrics server on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Msgf("error starting metrics server: %s", err)
		}
	}()
	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down metrics server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Msgf("metrics server forced to shutdown: %s", err)
		} else {
			logger.Info().Msg("metrics server stopped")
		}
	}()
}
