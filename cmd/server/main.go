package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/webchat/internal/auth"
	"github.com/suPer8Hu/webchat/internal/bootstrap"
	"github.com/suPer8Hu/webchat/internal/chat"
	"github.com/suPer8Hu/webchat/internal/config"
	"github.com/suPer8Hu/webchat/internal/httpapi"
	"github.com/suPer8Hu/webchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/webchat/internal/imagegen"
	"github.com/suPer8Hu/webchat/internal/logger"
	"github.com/suPer8Hu/webchat/internal/observability"
	"github.com/suPer8Hu/webchat/internal/ratelimit"
	"github.com/suPer8Hu/webchat/internal/store/rabbitmq"
	"github.com/suPer8Hu/webchat/internal/store/redisstore"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	log, err := bootstrap.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.OtelEnabled,
		ServiceName: cfg.OtelServiceName,
		Environment: cfg.AppEnv,
		Endpoint:    cfg.OtelEndpoint,
		Insecure:    cfg.OtelInsecure,
		SampleRatio: cfg.OtelSampleRatio,
	})
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(sctx)
	}()

	gdb, err := bootstrap.OpenDB(cfg)
	if err != nil {
		log.Fatal("database init failed", "error", err)
	}

	files, err := bootstrap.NewFileStore(ctx, cfg, gdb, log)
	if err != nil {
		log.Fatal("blob storage init failed", "backend", cfg.StorageBackend, "error", err)
	}

	registry, err := bootstrap.NewRegistry(cfg)
	if err != nil {
		log.Fatal("ai provider init failed", "error", err)
	}
	log.Info("chat providers", "names", registry.Names(), "default", cfg.AIProvider)
	chatSvc := chat.NewService(chat.NewRepo(gdb), registry, log, cfg.ChatContextWindowSize)

	gateway, discovery := bootstrap.NewImageGateway(ctx, cfg, files, log)

	var publisher imagegen.JobPublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerRetryDelay)
		if err != nil {
			log.Fatal("rabbitmq init failed", "error", err)
		}
		defer pub.Close()
		publisher = pub
	} else {
		log.Info("RABBIT_URL not set, async image jobs disabled")
	}
	jobs := imagegen.NewJobService(imagegen.NewJobRepo(gdb), gateway, publisher, log)

	limiter := newLimiter(ctx, cfg, log, gdb)

	h := &handlers.Handler{
		Auth:         auth.NewService(gdb, cfg.JWTSecret, cfg.SessionTTL, log),
		Chat:         chatSvc,
		Files:        files,
		Images:       gateway,
		Jobs:         jobs,
		Log:          log,
		CookieSecure: cfg.CookieSecure,
	}
	serviceName := ""
	if cfg.OtelEnabled {
		serviceName = cfg.OtelServiceName
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Handler: h,
		Limiter: limiter,
		Limits: httpapi.Limits{
			ChatPerHour:   cfg.RateLimitChatPerHour,
			ImagesPerHour: cfg.RateLimitImagesPerHour,
		},
		CORSOrigins: cfg.CORSOrigins,
		ServiceName: serviceName,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return discovery.Run(gctx)
	})
	if sqlLimiter, ok := limiter.(*ratelimit.SQLLimiter); ok {
		g.Go(func() error {
			return sqlLimiter.RunPruner(gctx, time.Hour, 10*time.Minute, log)
		})
	}
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info("http server shutting down")
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
	}
}

// newLimiter prefers Redis and falls back to the SQL log table.
func newLimiter(ctx context.Context, cfg config.Config, log *logger.Logger, gdb *gorm.DB) ratelimit.Limiter {
	if cfg.RedisAddr == "" {
		return ratelimit.NewSQLLimiter(gdb)
	}
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rds.Ping(pctx); err != nil {
		log.Warn("redis unavailable, using sql rate limiter", "addr", cfg.RedisAddr, "error", err)
		_ = rds.Close()
		return ratelimit.NewSQLLimiter(gdb)
	}
	return ratelimit.NewRedisLimiter(rds)
}
