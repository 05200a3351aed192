package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"codelens-ci/internal/api"
	"codelens-ci/internal/artifact"
	"codelens-ci/internal/config"
	"codelens-ci/internal/gitclone"
	"codelens-ci/internal/llm"
	"codelens-ci/internal/logging"
	"codelens-ci/internal/models"
	"codelens-ci/internal/pipeline"
	"codelens-ci/internal/ratelimit"
	"codelens-ci/internal/sandbox"
	"codelens-ci/internal/store"
)

func main() {
	log := logging.Init()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	runtime, err := sandbox.NewDockerRuntime()
	if err != nil {
		log.Fatalf("docker client: %v", err)
	}
	if err := runtime.Ping(ctx); err != nil {
		log.Fatalf("docker daemon unreachable: %v", err)
	}

	reasoner, err := llm.NewClient(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel)
	if err != nil {
		log.Fatalf("llm client: %v", err)
	}

	var uploader pipeline.ReportUploader
	if s3up, err := artifact.NewS3Uploader(ctx, cfg); err != nil {
		log.Fatalf("report archive: %v", err)
	} else if s3up != nil {
		uploader = s3up
	}

	svc := pipeline.NewService(cfg, st, st, gitclone.New(cfg.WorkspaceDir), runtime, reasoner, uploader)

	// Dispatched pipelines inherit the root context so an interrupt stops
	// in-flight jobs along with the listener.
	dispatch := func(job models.Job) {
		go svc.Execute(ctx, job)
	}

	server := api.New(cfg, st, limiter, dispatch)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Infof("listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
