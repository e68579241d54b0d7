package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"breakwatch/internal/config"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        *config.Config
	logger     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zerolog.New(os.Stderr).With().Timestamp().Logger()}

	rootCmd := &cobra.Command{
		Use:           "breakwatch",
		Short:         "Attendance break scheduler and realtime event hub",
		Long:          "breakwatch signals workers when their scheduled breaks begin, relays break lifecycle events between connected clients and records actual break times.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("BREAKWATCH_CONFIG_PATH"), "path to config.yaml")

	rootCmd.AddCommand(
		newServeCmd(a),
		newAgentCmd(a),
		newReportCmd(a),
		newTickCmd(a),
	)
	return rootCmd
}

func (a *app) init() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(a.configPath)
	switch {
	case err == nil:
	case a.configPath == "" && errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
	default:
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.logger = newLogger(cfg)
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Logging.Pretty {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(output)
	} else {
		logger = zerolog.New(os.Stdout)
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// redisClient returns nil when no Redis address is configured.
func (a *app) redisClient() *redis.Client {
	if a.cfg.Redis.Address == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Address,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
}
