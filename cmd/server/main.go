package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-tr-cheques/internal/app"
	"github.com/pesio-ai/be-tr-cheques/internal/client"
	"github.com/pesio-ai/be-tr-cheques/internal/handler"
	"github.com/pesio-ai/be-tr-cheques/internal/metrics"
	"github.com/pesio-ai/be-tr-cheques/internal/platform/config"
	"github.com/pesio-ai/be-tr-cheques/internal/service"
	"github.com/pesio-ai/be-tr-cheques/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := app.NewLogger(cfg)
	log.Info().
		Str("environment", cfg.Service.Environment).
		Str("storage", cfg.Storage.Driver).
		Str("approval_threshold", cfg.Approval.Threshold.String()).
		Msg("Starting Cheques Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	store, closeStore, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Optional Redis: exposure cache and relay cursor
	var (
		cache  service.SummaryCache
		cursor worker.CursorStore
	)
	if cfg.Redis.Addr != "" {
		rs, err := client.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ExposureCacheTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rs.Close()
		cache, cursor = rs, rs
		log.Info().Str("addr", cfg.Redis.Addr).Dur("exposure_ttl", cfg.Redis.ExposureCacheTTL).Msg("Redis connected")
	}

	svc := service.New(service.Dependencies{
		Store:   store,
		Metrics: m,
		Log:     log,
		Cache:   cache,
	})

	g, gctx := errgroup.WithContext(ctx)

	// Optional NATS: audit relay
	if cfg.NATS.URL != "" {
		pub, err := client.ConnectAuditPublisher(ctx, cfg.NATS.URL, cfg.NATS.Stream, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer pub.Close()

		relay := worker.NewAuditRelay(store, pub, cursor, m, log, worker.RelayConfig{
			PollInterval: cfg.Relay.PollInterval,
			BatchSize:    cfg.Relay.BatchSize,
			SettleLag:    cfg.Relay.SettleLag,
		})
		g.Go(func() error { return relay.Run(gctx) })
	} else {
		log.Info().Msg("NATS_URL not set; audit relay disabled")
	}

	// HTTP
	router := handler.NewRouter(handler.RouterConfig{
		API:            handler.NewHTTPHandler(svc, cfg.Approval.Threshold, log),
		Log:            log,
		Metrics:        m,
		Gatherer:       reg,
		Health:         store.Ping,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// gRPC
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryServerInterceptor(log)))
	handler.NewGRPCHandler(svc, cfg.Approval.Threshold, log).Register(grpcServer)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.ChequeServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}
	g.Go(func() error {
		log.Info().Int("port", cfg.GRPC.Port).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		closeStore()
		os.Exit(1)
	}
	log.Info().Msg("Server stopped")
}
