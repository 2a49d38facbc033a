// Command nexus serves the study-network REST API and live event socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	redisstore "github.com/gofiber/storage/redis/v3"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/nexus/config"
	"github.com/orchestra-mcp/nexus/src/api"
	"github.com/orchestra-mcp/nexus/src/auth"
	"github.com/orchestra-mcp/nexus/src/bridge"
	"github.com/orchestra-mcp/nexus/src/hub"
	"github.com/orchestra-mcp/nexus/src/jobs"
	"github.com/orchestra-mcp/nexus/src/presence"
	"github.com/orchestra-mcp/nexus/src/realtime"
	"github.com/orchestra-mcp/nexus/src/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/valyala/fasthttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flagSet := pflag.NewFlagSet("nexus", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv("NEXUS_CONFIG"), "path to a YAML config file")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	if cfg.Database.Seed {
		if err := st.Seed(context.Background()); err != nil {
			_ = st.Close()
			return fmt.Errorf("seed: %w", err)
		}
	}

	h := hub.New(logger,
		hub.WithSendBuffer(cfg.Socket.SendBuffer),
		hub.WithPingInterval(cfg.Socket.PingEvery()),
	)
	go h.Run()

	var (
		pres        presence.Store = presence.NewMemory()
		instanceID                 = uuid.NewString()
		limiterDB   *redisstore.Storage
		redisBridge *bridge.RedisBridge
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		rc := bridge.RedisConfigFromEnv()
		redisClient = rc.NewClient()
		redisBridge = bridge.NewRedisBridgeWithClient(redisClient, rc.Prefix, h, logger)
		startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisBridge.Start(startCtx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("addr", rc.Addr).Msg("redis unavailable, running standalone")
			_ = redisClient.Close()
			redisBridge, redisClient = nil, nil
		} else {
			h.SetBridge(redisBridge)
			pres = presence.NewRedis(redisClient, rc.Prefix)
			instanceID = redisBridge.InstanceID()
			// The storage client panics when Redis is unreachable, so it is
			// only built after the bridge has connected.
			limiterDB = newLimiterStorage(rc)
		}
	}

	rtOpts := []realtime.Option{realtime.WithInstanceID(instanceID)}
	if cfg.Realtime.PersistNodePositions {
		rtOpts = append(rtOpts, realtime.WithNodePersistence(st))
	}
	rt := realtime.New(h, pres, logger, rtOpts...)

	authSvc := auth.New(st, cfg.Session.TTL, logger)
	deps := api.Deps{Store: st, Auth: authSvc, Realtime: rt}
	if limiterDB != nil {
		deps.LimiterStorage = limiterDB
	}
	srv := api.New(cfg, deps, logger)

	httpServer := &fasthttp.Server{
		Handler:         srv.Handler(),
		Name:            "nexus",
		WriteTimeout:    cfg.HTTP.RequestTimeout,
		CloseOnShutdown: true,
	}

	jobCtx, stopJobs := context.WithCancel(context.Background())
	go jobs.NewCleanup(authSvc, st, cfg.Cleanup.Interval, cfg.Cleanup.ActivityRetention, logger).Run(jobCtx)

	listenErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.HTTP.Addr).
			Str("mode", cfg.Mode).
			Str("database", st.Dialect()).
			Bool("redis", redisBridge != nil).
			Str("ws", cfg.Socket.Path).
			Msg("nexus listening")
		listenErr <- httpServer.ListenAndServe(cfg.HTTP.Addr)
	}()

	shutdown := func(ctx context.Context) error {
		logger.Info().Msg("shutting down")
		stopJobs()
		var errs []error
		if err := httpServer.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
		srv.Close()
		h.Stop()
		if redisBridge != nil {
			if err := redisBridge.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("bridge: %w", err))
			}
		}
		if limiterDB != nil {
			if err := limiterDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("limiter storage: %w", err))
			}
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("redis: %w", err))
			}
		}
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
		return errors.Join(errs...)
	}

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.HTTP.ShutdownTimeout,
		map[string]gfshutdown.Operation{"nexus": shutdown})

	select {
	case code := <-wait:
		if code != 0 {
			return fmt.Errorf("shutdown finished with code %d", code)
		}
		return nil
	case err := <-listenErr:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = shutdown(ctx)
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "nexus").Logger()
}

func newLimiterStorage(rc *bridge.RedisConfig) *redisstore.Storage {
	host, portStr, err := net.SplitHostPort(rc.Addr)
	if err != nil {
		host, portStr = rc.Addr, "6379"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 6379
	}
	return redisstore.New(redisstore.Config{
		Host:     host,
		Port:     port,
		Password: rc.Password,
		Database: rc.DB,
	})
}
