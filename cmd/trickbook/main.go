package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/alphabot-ai/trickbook/internal/api"
	"github.com/alphabot-ai/trickbook/internal/auth"
	"github.com/alphabot-ai/trickbook/internal/cache"
	"github.com/alphabot-ai/trickbook/internal/comments"
	"github.com/alphabot-ai/trickbook/internal/config"
	"github.com/alphabot-ai/trickbook/internal/graph"
	"github.com/alphabot-ai/trickbook/internal/logger"
	"github.com/alphabot-ai/trickbook/internal/moderation"
	"github.com/alphabot-ai/trickbook/internal/neo4jdb"
	"github.com/alphabot-ai/trickbook/internal/observability"
	"github.com/alphabot-ai/trickbook/internal/pipeline"
	"github.com/alphabot-ai/trickbook/internal/ratelimit"
	"github.com/alphabot-ai/trickbook/internal/store"
	"github.com/alphabot-ai/trickbook/internal/votes"
)

const tokenTTL = 24 * time.Hour

func main() {
	// .env is optional; real environment wins.
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("trickbook stopped", "error", err)
	}
	log.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	shutdownTracing := observability.InitOTel(ctx, log, observability.Config{
		Enabled:     cfg.OTelEnabled,
		ServiceName: "trickbook",
		Environment: cfg.AppEnv,
		Endpoint:    cfg.OTelEndpoint,
		Headers:     cfg.OTelHeaders,
		Insecure:    cfg.OTelInsecure,
		SampleRatio: cfg.OTelSampleRatio,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is not set; authenticated routes will reject every request")
	}

	db, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close(db)

	policy, err := graph.ParsePolicy(cfg.InactivePrerequisitePolicy)
	if err != nil {
		return err
	}

	rdb := cache.Connect(ctx, cfg.RedisURL, log)
	if rdb != nil {
		defer rdb.Close()
	}

	neo, err := neo4jdb.NewClient(ctx, neo4jdb.Config{
		URI:      cfg.Neo4jURI,
		User:     cfg.Neo4jUser,
		Password: cfg.Neo4jPassword,
		Database: cfg.Neo4jDatabase,
	}, log)
	if err != nil {
		return fmt.Errorf("connect neo4j: %w", err)
	}
	defer neo.Close(context.Background())

	var mirror graph.Mirror = graph.NopMirror{}
	if neo != nil {
		mirror = neo4jdb.NewPrerequisiteMirror(neo, log)
	}

	var limiter ratelimit.Limiter
	if rdb != nil {
		limiter = ratelimit.NewRedisLimiter(rdb, log)
	} else {
		mem := ratelimit.NewMemoryLimiter()
		mem.StartCleanup(ctx, 5*time.Minute)
		limiter = mem
	}

	queue := moderation.NewQueue(db, log)
	g := graph.New(db, queue, log, graph.Options{
		ReviewRevisions: cfg.ReviewRevisions,
		InactivePolicy:  policy,
		Mirror:          mirror,
	})
	ledger := votes.NewLedger(db, cache.New(rdb, "trickbook:score:", cfg.ScoreCacheTTL), log)
	p := pipeline.New(db, ledger, queue, g, log, pipeline.Config{
		ApprovalThreshold: cfg.ApprovalThreshold,
		VoteCeiling:       cfg.VoteCeiling,
	})
	thread := comments.NewThread(db, queue, comments.EscapeRenderer{}, log)

	handler := api.NewHandler(api.Deps{
		Graph:    g,
		Pipeline: p,
		Comments: thread,
		Queue:    queue,
		Auth:     auth.NewService(cfg.JWTSecret, tokenTTL),
		Limiter:  limiter,
	}, cfg, log)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info("Starting trickbook", "addr", addr, "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info("Shutting down server...")

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}
