package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/yanun0323/logs"

	"tradesim/internal/api"
	"tradesim/internal/compose"
	"tradesim/internal/consume"
	"tradesim/internal/gateway"
	"tradesim/internal/manifest"
	"tradesim/internal/ops"
	"tradesim/internal/orchestrator"
	"tradesim/internal/reaper"
	"tradesim/internal/store"
	"tradesim/pkg/conn"
)

func main() {
	cfg := ops.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Profiling.ServerAddress != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "tradesim.simd",
			ServerAddress:   cfg.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Warnf("start profiler: %v", err)
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	pg, err := conn.NewPostgres(conn.PostgresOption{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
	})
	if err != nil {
		logs.Errorf("connect postgres: %v", err)
		return
	}
	defer func() { _ = pg.Close() }()

	results := store.NewResultsStore(pg.DB())
	if err := results.Migrate(ctx); err != nil {
		logs.Errorf("migrate results store: %v", err)
		return
	}

	var configs *store.ConfigStore
	mongo, err := conn.NewMongo(ctx, conn.MongoOption{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	if err != nil {
		logs.Warnf("connect mongo: %v (run configs will not be persisted)", err)
	} else {
		defer func() { _ = mongo.Close(context.Background()) }()
		configs = store.NewConfigStore(mongo.Database())
	}

	backups, err := gateway.NewBackupStore(cfg.Gateway.BackupDir)
	if err != nil {
		logs.Errorf("open backup store: %v", err)
		return
	}
	gw := gateway.New(
		gateway.Config{MaxRetries: cfg.Gateway.MaxRetries, RetryDelay: cfg.Gateway.RetryDelay},
		results,
		gateway.NewBreaker(gateway.BreakerConfig{
			Threshold:    cfg.Gateway.BreakerThreshold,
			ResetTimeout: cfg.Gateway.BreakerReset,
		}),
		backups,
	)
	if replayed, err := gw.ReplayBackups(ctx); err != nil {
		logs.Warnf("replay backups: %v", err)
	} else if replayed > 0 {
		logs.Infof("replayed %d backed up writes from previous session", replayed)
	}

	manifests, err := manifest.NewGenerator(manifest.Config{
		Dir:             cfg.Manifest.Dir,
		ExternalNetwork: cfg.Manifest.ExternalNetwork,
		StoreEnv:        cfg.StoreEnv(),
	})
	if err != nil {
		logs.Errorf("open manifest dir: %v", err)
		return
	}

	runner := &compose.CLIRunner{}
	collector := &orchestrator.Collector{
		Retries: cfg.Collector.Retries,
		Delay:   cfg.Collector.Delay,
	}

	var configStore orchestrator.ConfigStore
	var statuses consume.StatusWriter
	if configs != nil {
		configStore = configs
		statuses = configs
	}
	ingestor := consume.NewIngestor(gw, statuses)

	orc := orchestrator.New(orchestrator.NewRegistry(), manifests, runner, collector, configStore, gw, ingestor)
	orc.ReconcileStartup(ctx)

	sweeper := reaper.New(
		reaper.Config{MaxConcurrentRuns: cfg.Reaper.MaxConcurrentRuns},
		&compose.DockerCLI{},
		manifests,
		orc.Registry().ActiveIDs,
	)

	var consumer *consume.Consumer
	redisClient, err := conn.NewRedis(ctx, conn.RedisOption{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logs.Warnf("connect redis: %v (telemetry consumer disabled)", err)
	} else {
		defer func() { _ = redisClient.Close() }()

		consumer = consume.New(
			consume.Config{Stream: cfg.Redis.Stream},
			redisClient,
			ingestor,
		)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logs.Errorf("consumer stopped: %v", err)
			}
		}()
	}

	consumerStats := func() consume.Stats {
		if consumer == nil {
			return consume.Stats{}
		}
		return consumer.Stats()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	var apiConfigs api.Configs
	if configs != nil {
		apiConfigs = configs
	}
	api.NewHandler(orc, results, apiConfigs, sweeper, consumerStats, gw.Stats).Register(e)

	go func() {
		if err := e.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("http server: %v", err)
			stop()
		}
	}()
	logs.Infof("listening on %s", cfg.HTTP.Addr)

	<-ctx.Done()
	logs.Info("shutting down")

	if consumer != nil {
		consumer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logs.Warnf("http shutdown: %v", err)
	}
	for id, stopped := range orc.StopAll(shutdownCtx) {
		if !stopped {
			logs.Warnf("run %s was not stopped cleanly", id)
		}
	}
}
