package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"breakwatch/internal/database"
	"breakwatch/internal/events"
	"breakwatch/internal/httpserver"
	"breakwatch/internal/hub"
	"breakwatch/internal/lifecycle"
	"breakwatch/internal/metrics"
	"breakwatch/internal/scheduler"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the event hub, break scheduler and HTTP endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	rdb := a.redisClient()
	if rdb != nil {
		defer rdb.Close()
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	bus := events.NewBus()
	bus.OnError(func(e events.Event, err error) {
		logger.Error().Err(err).Str("event", e.Name).Str("conn_id", e.ConnID).Msg("event handler failed")
	})
	lifecycle.NewService(db, logger).Attach(bus)

	h := hub.New(hub.NewMemoryRegistry(), bus, hub.Config{
		SendBuffer:      cfg.Hub.SendBuffer,
		InboundRate:     cfg.Hub.InboundRatePerSec,
		InboundBurst:    cfg.Hub.InboundBurst,
		WriteTimeout:    cfg.HubWriteTimeout(),
		PongTimeout:     cfg.HubPongTimeout(),
		MaxMessageBytes: cfg.Hub.MaxMessageBytes,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, logger)
	defer h.Shutdown()

	if rdb != nil {
		relay := hub.NewRedisRelay(rdb, cfg.Redis.Channel, logger)
		if err := relay.Attach(ctx, h); err != nil {
			return fmt.Errorf("attach relay: %w", err)
		}
	}

	if cfg.Scheduler.Enabled {
		sched, err := a.newScheduler(db, h, h.InstanceID(), rdb)
		if err != nil {
			return err
		}
		go sched.Start(ctx)
		defer sched.Stop()
	}

	backup := database.NewBackupService(db, database.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		Interval:      cfg.BackupInterval(),
		StoragePath:   cfg.Backup.Path,
		RetentionDays: cfg.Backup.RetentionDays,
	}, logger)
	go backup.Start(ctx)

	router := httpserver.NewRouter(httpserver.Deps{
		WebSocket: h.ServeWS,
		DB:        db,
		Redis:     rdb,
	}, httpserver.Config{Metrics: cfg.Monitoring.PrometheusEnabled}, logger)

	srv := httpserver.New(router, httpserver.Config{
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.ServerReadTimeout(),
		WriteTimeout:    cfg.ServerWriteTimeout(),
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
	}, logger)

	logger.Info().
		Str("instance", h.InstanceID()).
		Bool("redis", rdb != nil).
		Bool("scheduler", cfg.Scheduler.Enabled).
		Msg("breakwatch started")
	return srv.Run(ctx)
}

// newScheduler wires the scheduler to db. A Redis claimer is used when the
// deployment shares Redis so only one instance signals each break.
func (a *app) newScheduler(db *database.DB, emitter scheduler.Emitter, owner string, rdb *redis.Client) (*scheduler.Scheduler, error) {
	loc, err := a.cfg.SchedulerLocation()
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone %q: %w", a.cfg.Scheduler.Timezone, err)
	}

	var opts []scheduler.Option
	if rdb != nil {
		opts = append(opts, scheduler.WithClaimer(scheduler.NewRedisClaimer(rdb, owner)))
	}
	return scheduler.New(db, emitter, scheduler.Config{
		Interval:       a.cfg.SchedulerInterval(),
		Location:       loc,
		UseMinuteIndex: a.cfg.Scheduler.UseMinuteIndex,
		ClaimTTL:       a.cfg.SchedulerLockTTL(),
	}, a.logger, opts...), nil
}
