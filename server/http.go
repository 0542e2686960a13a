package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"worker-transcribe/config"
	"worker-transcribe/constant"
	jobHandler "worker-transcribe/handler"
	"worker-transcribe/pkg/blob"
	"worker-transcribe/pkg/media"
	"worker-transcribe/pkg/rabbitmq"
	"worker-transcribe/pkg/stt"
	"worker-transcribe/repository"
	"worker-transcribe/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	repo, err := NewRepository(cfg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to open database")
		return
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
		return
	}
	publisher, err := rabbitmq.NewPublisher(conn, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to open publisher channel")
		return
	}
	defer publisher.Close()

	store := blob.NewMinioStore(cfg.Storage, cfg.MinIOBucket)
	processor := media.NewFFmpeg()
	provider := stt.NewOpenAIClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Model, cfg.Provider.Timeout)

	merger := service.NewMerger(repo, cfg.Pipeline.FailureThreshold)
	chunker := service.NewChunker(store, processor, cfg.Pipeline.ChunkDuration, cfg.Pipeline.OverlapDuration, cfg.Pipeline.TempDir)
	orchestrator := service.NewOrchestrator(repo, chunker, publisher, merger, service.OrchestratorOptions{
		ChunkDuration:   cfg.Pipeline.ChunkDuration,
		OverlapDuration: cfg.Pipeline.OverlapDuration,
		MergeTimeout:    cfg.Pipeline.MergeTimeout,
		MergeRetryAfter: cfg.Pipeline.MergeRetryAfter,
		CancelGrace:     cfg.Pipeline.CancelGrace,
	})
	worker := service.NewWorker(repo, store, provider, orchestrator, service.WorkerOptions{
		Prompt:          cfg.Provider.Prompt,
		ProviderTimeout: cfg.Provider.Timeout,
		Retry:           service.RetryPolicyFromConfig(cfg.Pipeline),
	})
	api := jobHandler.NewHTTPHandler(orchestrator, service.NewProgressTracker(repo), service.NewAssetService(repo, store, processor, cfg.Pipeline.MaxAssetBytes))

	serviceDeps := jobHandler.ServiceDependencies{
		Worker: worker,
	}

	g, gctx := errgroup.WithContext(ctx)

	chunkConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, cfg.Server.Workers, jobHandler.ChunkTaskHandler)
	g.Go(func() error {
		err := chunkConsumer.Consume(gctx, serviceDeps)
		if err != nil && !errors.Is(err, context.Canceled) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("chunk consumer error")
			return err
		}
		return nil
	})

	g.Go(func() error {
		runSweeper(gctx, orchestrator, cfg.Pipeline.SweepInterval)
		return nil
	})

	r := gin.Default()
	r.Use(jobHandler.WithLogger(ctx))
	addHealth(r)
	api.Register(r)

	handler := http.Server{
		Handler: cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		})(r),
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zerolog.Ctx(ctx).Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		return handler.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("env", cfg.App.Environment).Msg("server stopped with error")
	}
	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

// NewRepository opens the embedded SQLite store when sqlite_path is set, Postgres otherwise.
func NewRepository(cfg *config.Config) (repository.JobRepository, error) {
	if cfg.SQLitePath != "" {
		return repository.NewSQLiteRepo(cfg.SQLitePath)
	}
	return repository.NewRepo(cfg.DB)
}

func runSweeper(ctx context.Context, orchestrator service.Orchestrator, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := orchestrator.Sweep(ctx, now); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
