package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/erpc/contractreads/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
)

const defaultConfigPath = "./contractreads.yaml"

func newCommand(fsys afero.Fs, logger *zerolog.Logger) *cli.Command {
	flags := func() []cli.Flag {
		return []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfigPath,
				Usage:   "path of the yaml configuration",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "dotenv file loaded before the configuration is expanded",
			},
		}
	}

	return &cli.Command{
		Name:  "contractreads",
		Usage: "keep cached contract reads up to date",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "read the configured contracts and refresh them as blocks arrive",
				Flags: flags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, lg, err := loadConfig(fsys, logger, cmd.String("config"), cmd.String("env-file"))
					if err != nil {
						return err
					}
					return run(ctx, fsys, lg, cfg)
				},
			},
			{
				Name:  "validate",
				Usage: "load and validate the configuration, including every abi",
				Flags: flags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, lg, err := loadConfig(fsys, logger, cmd.String("config"), cmd.String("env-file"))
					if err != nil {
						return err
					}
					return validate(fsys, lg, cfg)
				},
			},
		},
	}
}

func loadConfig(fsys afero.Fs, logger *zerolog.Logger, configPath, envFile string) (*common.Config, *zerolog.Logger, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	if _, err := fsys.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("config file '%s' does not exist", configPath)
	}
	logger.Info().Msgf("resolved configuration file to: %s", configPath)

	cfg, err := common.LoadConfig(fsys, configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	lg := *logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lg.Warn().Msgf("invalid log level '%s', defaulting to 'debug': %s", cfg.LogLevel, err)
		level = zerolog.DebugLevel
	}
	lg = lg.Level(level)
	return cfg, &lg, nil
}
