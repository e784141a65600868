package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quizbot-service/internal/app"
	"quizbot-service/internal/bank"
	"quizbot-service/internal/config"
	"quizbot-service/internal/domain"
	"quizbot-service/internal/infra/file"
	"quizbot-service/internal/infra/memory"
	pgstore "quizbot-service/internal/infra/postgres"
	redisstore "quizbot-service/internal/infra/redis"
	"quizbot-service/internal/scheduler"
	"quizbot-service/internal/telemetry"
	transport "quizbot-service/internal/transport/http"
)

const defaultQuestionDir = "questions"

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level)

	policy, err := app.ParsePolicy(cfg.Quiz.TimeoutPolicy)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader, closeLoader, err := questionLoader(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLoader()

	questions := bank.New(config.Duration(cfg.Quiz.DefaultDelay, domain.DefaultDelay))
	if err := questions.Reload(ctx, loader); err != nil {
		return err
	}
	logger.InfoContext(ctx, "question bank loaded", "topics", questions.Topics())

	var (
		players app.PlayerRepository
		stats   interface {
			app.ScoreTracker
			transport.StatsSource
		}
		active    transport.ActiveLister
		keepAlive func(ctx context.Context) error
	)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		telemetry.MonitorRedis(redisClient, logger)

		ttl := config.Duration(cfg.Redis.TTL, 30*time.Minute)
		store := redisstore.NewPlayerStore(redisClient, ttl, logger)
		players, active = store, store
		keepAlive = func(ctx context.Context) error { return store.KeepAlive(ctx, ttl/3) }
		stats = redisstore.NewScoreTracker(redisClient, "")
	} else {
		store := memory.NewPlayerStore()
		players, active = store, store
		stats = memory.NewScoreTracker()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	sched := scheduler.New()
	defer sched.Close()

	hub := transport.NewHub()
	dispatcher := app.NewDispatcher(app.Config{
		Bank:      questions,
		Players:   players,
		Scheduler: sched,
		Messenger: hub,
		Stats:     stats,
		Policy:    policy,
		Metrics:   metrics,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", transport.NewWSHandler(dispatcher, hub, logger).ServeWS)
	transport.NewAPI(transport.APIConfig{
		Catalog: questions,
		Stats:   stats,
		Players: active,
		Reload: func(ctx context.Context) error {
			return questions.Reload(ctx, loader)
		},
		Logger: logger,
	}).Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := dispatcher.Run(gctx, sched.Expired())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if keepAlive != nil {
		g.Go(func() error {
			if err := keepAlive(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("starting quiz service", "port", finalPort, "policy", string(policy))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// questionLoader picks Postgres when configured, otherwise the question directory.
func questionLoader(ctx context.Context, cfg config.Config, logger *slog.Logger) (bank.Loader, func(), error) {
	if cfg.Postgres.URL == "" {
		dir := cfg.Quiz.Dir
		if dir == "" {
			dir = defaultQuestionDir
		}
		if _, err := os.Stat(dir); err != nil {
			return nil, nil, err
		}
		logger.InfoContext(ctx, "loading questions from directory", "dir", dir)
		return file.NewLoader(dir), func() {}, nil
	}

	if err := runMigrations(ctx, cfg, logger); err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, nil, err
	}
	logger.InfoContext(ctx, "loading questions from postgres")
	return pgstore.NewQuestionLoader(pool), pool.Close, nil
}
