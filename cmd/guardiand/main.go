// guardiand is the long-running daemon: it connects the fact log and stream
// router to Redis, runs the guardian plus the optional derived-fact agents
// and the view materializer, and serves the health endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinycrops/agentWeb/internal/agents"
	"github.com/tinycrops/agentWeb/internal/config"
	"github.com/tinycrops/agentWeb/internal/guardian"
	"github.com/tinycrops/agentWeb/internal/health"
	"github.com/tinycrops/agentWeb/internal/materializer"
	"github.com/tinycrops/agentWeb/pkg/consumer"
	"github.com/tinycrops/agentWeb/pkg/factlog"
	"github.com/tinycrops/agentWeb/pkg/stream"
)

func main() {
	os.Exit(run())
}

// run contains the main logic and returns an exit code. The separation keeps
// deferred cleanup running before the process exits.
func run() int {
	configPath := flag.String("config", "agentweb.yml", "Path to the agentweb configuration file")
	flag.Parse()

	manager, err := config.NewManager(*configPath)
	if err != nil {
		log.Printf("[ERROR] Configuration error: %v", err)
		return 1
	}
	cfg := manager.Current()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reload the configuration on file changes. Consumers pick up the new
	// snapshot on restart; tuning values apply to new subscriptions.
	if err := manager.Watch(ctx); err != nil {
		log.Printf("[WARN] Configuration watch disabled: %v", err)
	}

	redisOpts := &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	factLog, err := factlog.NewRedisLog(redisOpts, cfg.Instance)
	if err != nil {
		log.Printf("[ERROR] Failed to create fact log: %v", err)
		return 1
	}
	defer func() {
		log.Printf("[DEBUG] Closing fact log...")
		if err := factLog.Close(); err != nil {
			log.Printf("[ERROR] Error closing fact log: %v", err)
		}
	}()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := factLog.Ping(pingCtx); err != nil {
		pingCancel()
		log.Printf("[ERROR] Failed to connect to Redis: %v", err)
		return 1
	}
	pingCancel()
	log.Printf("[INFO] Connected to Redis at %s (instance %s)", cfg.Redis.Addr, cfg.Instance)

	router, err := stream.NewRedisRouter(redisOpts, factLog, cfg.Instance)
	if err != nil {
		log.Printf("[ERROR] Failed to create stream router: %v", err)
		return 1
	}
	defer func() {
		log.Printf("[DEBUG] Closing stream router...")
		if err := router.Close(); err != nil {
			log.Printf("[ERROR] Error closing stream router: %v", err)
		}
	}()

	snapshots, err := consumer.NewFileStore(cfg.Snapshot.Dir)
	if err != nil {
		log.Printf("[ERROR] Failed to create snapshot store: %v", err)
		return 1
	}

	// Assemble the consumer set.
	var running []interface{ Stop() error }
	stopAll := func() {
		for i := len(running) - 1; i >= 0; i-- {
			if err := running[i].Stop(); err != nil {
				log.Printf("[ERROR] Consumer shutdown error: %v", err)
			}
		}
	}

	if cfg.GuardianEnabled() {
		g, err := guardian.New(factLog, consumer.Options{
			Group:         cfg.Guardian.Group,
			SnapshotEvery: cfg.Snapshot.Every,
			Store:         snapshots,
		})
		if err != nil {
			log.Printf("[ERROR] Failed to create guardian: %v", err)
			return 1
		}
		if err := startConsumer(ctx, g, router); err != nil {
			log.Printf("[ERROR] Failed to start guardian: %v", err)
			return 1
		}
		running = append(running, g)
		log.Printf("[INFO] Guardian running (group %s)", g.Group())
	}

	if cfg.Agents.Progress {
		a, err := agents.NewProgressAgent(consumer.Options{
			SnapshotEvery: cfg.Snapshot.Every,
			Store:         snapshots,
		})
		if err != nil {
			log.Printf("[ERROR] Failed to create progress agent: %v", err)
			stopAll()
			return 1
		}
		if err := startConsumer(ctx, a, router); err != nil {
			log.Printf("[ERROR] Failed to start progress agent: %v", err)
			stopAll()
			return 1
		}
		running = append(running, a)
		log.Printf("[INFO] Progress agent running")
	}

	if cfg.Agents.Relation {
		a, err := agents.NewRelationAgent(consumer.Options{
			SnapshotEvery: cfg.Snapshot.Every,
			Store:         snapshots,
		})
		if err != nil {
			log.Printf("[ERROR] Failed to create relation agent: %v", err)
			stopAll()
			return 1
		}
		if err := startConsumer(ctx, a, router); err != nil {
			log.Printf("[ERROR] Failed to start relation agent: %v", err)
			stopAll()
			return 1
		}
		running = append(running, a)
		log.Printf("[INFO] Relation agent running")
	}

	mat, err := materializer.New(redisOpts, cfg.Instance, consumer.Options{})
	if err != nil {
		log.Printf("[ERROR] Failed to create materializer: %v", err)
		stopAll()
		return 1
	}
	defer mat.Close()
	if err := startConsumer(ctx, mat, router); err != nil {
		log.Printf("[ERROR] Failed to start materializer: %v", err)
		stopAll()
		return 1
	}
	running = append(running, mat)
	log.Printf("[INFO] View materializer running")

	healthServer := health.NewServer(cfg.Health.Port, map[string]health.Pinger{
		"factlog": factLog,
		"router":  router,
	})
	healthServer.Start()
	log.Printf("[INFO] Health server started on :%d", cfg.Health.Port)

	// Wait for shutdown signal.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("[INFO] Received signal: %v", sig)

	// Graceful shutdown: stop deliveries first so final snapshots capture a
	// settled state, then the health endpoint, then the connections (via
	// the deferred closes).
	log.Printf("[INFO] Initiating graceful shutdown...")
	stopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] Health server shutdown error: %v", err)
	}

	cancel()
	log.Printf("[INFO] Shutdown complete")
	return 0
}

// startConsumer walks one consumer through Init and Start.
func startConsumer(ctx context.Context, c interface {
	Init(context.Context, stream.Router) error
	Start(context.Context) error
}, router stream.Router) error {
	if err := c.Init(ctx, router); err != nil {
		return err
	}
	return c.Start(ctx)
}
