package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/webchat/internal/bootstrap"
	"github.com/suPer8Hu/webchat/internal/config"
	"github.com/suPer8Hu/webchat/internal/imagegen"
	"github.com/suPer8Hu/webchat/internal/logger"
	"github.com/suPer8Hu/webchat/internal/store/rabbitmq"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	log, err := bootstrap.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log = log.With("component", "worker")

	if cfg.RabbitURL == "" {
		log.Fatal("RABBIT_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := bootstrap.OpenDB(cfg)
	if err != nil {
		log.Fatal("database init failed", "error", err)
	}
	files, err := bootstrap.NewFileStore(ctx, cfg, gdb, log)
	if err != nil {
		log.Fatal("blob storage init failed", "error", err)
	}
	gateway, discovery := bootstrap.NewImageGateway(ctx, cfg, files, log)

	// the worker only consumes; it never publishes new jobs
	jobs := imagegen.NewJobService(imagegen.NewJobRepo(gdb), gateway, nil, log)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, rabbitmq.ConsumerOptions{
		Concurrency:  cfg.WorkerConcurrency,
		MaxAttempts:  cfg.WorkerMaxAttempts,
		RetryDelay:   cfg.WorkerRetryDelay,
		OnDeadLetter: jobs.Abandon,
	}, log)
	if err != nil {
		log.Fatal("rabbitmq init failed", "error", err)
	}
	defer consumer.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return discovery.Run(gctx)
	})
	g.Go(func() error {
		return consumer.Run(gctx, timed(log, jobs.Run))
	})
	if err := g.Wait(); err != nil {
		log.Error("worker exited with error", "error", err)
	}
}

// timed logs slow jobs.
func timed(log *logger.Logger, run func(ctx context.Context, jobID string, lastAttempt bool) error) rabbitmq.Handler {
	return func(ctx context.Context, jobID string, lastAttempt bool) error {
		start := time.Now()
		err := run(ctx, jobID, lastAttempt)
		if cost := time.Since(start); cost > 2*time.Second {
			log.Info("job_timing", "job_id", jobID, "cost", cost.String(), "failed", err != nil)
		}
		return err
	}
}
