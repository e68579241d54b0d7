package main

import (
	"context"
	"fmt"

	"breakwatch/internal/database"
	"breakwatch/internal/hub"
	"breakwatch/internal/scheduler"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newTickCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Evaluate pending breaks once and signal the ones due this minute",
		Long: "tick runs a single scheduler evaluation. With Redis configured, triggers are published " +
			"to running hub instances; otherwise they are only logged.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.NewDB(a.cfg.Database.Path, a.logger)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			rdb := a.redisClient()
			var emitter scheduler.Emitter = logEmitter{logger: a.logger}
			if rdb != nil {
				defer rdb.Close()
				h := hub.New(hub.NewMemoryRegistry(), nil, hub.DefaultConfig(), a.logger)
				h.UseRelay(hub.NewRedisRelay(rdb, a.cfg.Redis.Channel, a.logger))
				emitter = h
			}

			sched, err := a.newScheduler(db, emitter, "tick", rdb)
			if err != nil {
				return err
			}
			r := sched.Tick(cmd.Context())
			if r.Err != nil {
				return r.Err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s sessions=%d pending=%d parse_failures=%d triggered=%d indexed=%t\n",
				r.At.Format("2006-01-02 15:04"), r.Sessions, r.Pending, r.ParseFailures, r.Triggered, r.Indexed)
			return nil
		},
	}
}

// logEmitter reports triggers that have no hub to go to.
type logEmitter struct {
	logger zerolog.Logger
}

func (e logEmitter) EmitToWorker(_ context.Context, workerID, event string, payload any) (int, error) {
	e.logger.Info().Str("worker_id", workerID).Str("event", event).Interface("payload", payload).Msg("trigger (no hub)")
	return 0, nil
}
