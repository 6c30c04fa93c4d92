package main

import (
	"fmt"

	"github.com/erpc/contractreads/architecture/evm"
	"github.com/erpc/contractreads/common"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// validate resolves every abi and argument of the configured reads and prints a summary.
func validate(fsys afero.Fs, logger *zerolog.Logger, cfg *common.Config) error {
	total := 0
	for _, rc := range cfg.Reads {
		calls, err := evm.CallsFromConfig(fsys, rc.Contracts)
		if err != nil {
			return fmt.Errorf("reads[%s]: %w", rc.Id, err)
		}
		total += len(calls)
		logger.Info().
			Str("id", rc.Id).
			Int("contracts", len(calls)).
			Bool("watch", rc.Watch).
			Bool("cacheOnBlock", rc.CacheOnBlock).
			Uint64("blockNumber", rc.BlockNumber).
			Str("blockTag", rc.BlockTag).
			Msg("reads are valid")
	}
	logger.Info().
		Object("rpc", cfg.Rpc).
		Int("reads", len(cfg.Reads)).
		Int("contracts", total).
		Msg("configuration is valid")
	return nil
}
