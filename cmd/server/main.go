// Command server runs the CloudCode gateway: it loads the persisted
// account pool, wires the dispatch engine, and serves the HTTP
// front-end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
	"github.com/lattice-run/cloudcode-gateway/internal/dispatch"
	"github.com/lattice-run/cloudcode-gateway/internal/logging"
	"github.com/lattice-run/cloudcode-gateway/internal/pool"
	"github.com/lattice-run/cloudcode-gateway/internal/selector"
	"github.com/lattice-run/cloudcode-gateway/internal/server"
	"github.com/lattice-run/cloudcode-gateway/internal/storage"
	"github.com/lattice-run/cloudcode-gateway/internal/usage"
	"github.com/lattice-run/cloudcode-gateway/pkg/redis"
)

func main() {
	var (
		debugMode    bool
		strategyName string
		port         int
		host         string
	)

	flag.BoolVar(&debugMode, "debug", false, "enable debug logging")
	flag.StringVar(&strategyName, "strategy", "", "account selection strategy (sticky/round-robin/hybrid)")
	flag.IntVar(&port, "port", 0, "server port (default: 8080)")
	flag.StringVar(&host, "host", "", "bind address (default: 0.0.0.0)")
	flag.Parse()

	if os.Getenv("DEBUG") == "true" {
		debugMode = true
	}
	if port == 0 {
		if envPort := os.Getenv("PORT"); envPort != "" {
			fmt.Sscanf(envPort, "%d", &port)
		}
	}
	if host == "" {
		host = os.Getenv("HOST")
	}

	logging.SetDebug(debugMode)

	cfg := config.Default()
	if err := cfg.Load(); err != nil {
		logging.Warn("[startup] config load failed: %v", err)
	}
	cfg.Debug = debugMode
	if port != 0 {
		cfg.Port = port
	}
	if host != "" {
		cfg.Host = host
	}
	if strategyName != "" {
		strategyName = strings.ToLower(strategyName)
		switch strategyName {
		case selector.StrategySticky, selector.StrategyRoundRobin, selector.StrategyHybrid:
			cfg.Strategy = strategyName
		default:
			logging.Warn("[startup] invalid strategy %q, using %q", strategyName, cfg.Strategy)
		}
	}

	store := storage.New()
	p, err := pool.Load(store)
	if err != nil {
		logging.Error("[startup] failed to load account pool: %v", err)
		os.Exit(1)
	}
	logging.Info("[startup] loaded %d account(s)", p.Count())

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		client, err := redis.NewClient(redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logging.Warn("[startup] redis unavailable, usage history and signature cache will be in-memory: %v", err)
		} else {
			redisClient = client
			defer redisClient.Close()
		}
	}

	loop := dispatch.New(p, store, cfg, redisClient)
	tracker := usage.New(redisClient)

	srv := server.New(cfg, p, loop, tracker)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	if err := srv.Run(ctx, addr); err != nil {
		logging.Error("[startup] server exited: %v", err)
		os.Exit(1)
	}
}
