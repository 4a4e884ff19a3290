package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mcules/model-registry/internal/activity"
	"github.com/mcules/model-registry/internal/config"
	"github.com/mcules/model-registry/internal/httpapi"
	"github.com/mcules/model-registry/internal/httpx"
	"github.com/mcules/model-registry/internal/legacy"
	"github.com/mcules/model-registry/internal/logging"
	"github.com/mcules/model-registry/internal/metrics"
	"github.com/mcules/model-registry/internal/policy"
	"github.com/mcules/model-registry/internal/registry"
	"github.com/mcules/model-registry/internal/rpc"
	"github.com/mcules/model-registry/internal/scoring"
	"github.com/mcules/model-registry/internal/status"
	"github.com/mcules/model-registry/internal/warmer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal(logging.New(0, true), err, "Invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogDev)
	setupLog := log.WithName("setup")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policyStore, err := policy.Open(cfg.PoliciesDBPath)
	if err != nil {
		logging.Fatal(setupLog, err, "Failed to open policy store", "path", cfg.PoliciesDBPath)
	}
	defer policyStore.Close()

	activityLog := activity.New(cfg.ActivitySize)

	store, err := registry.Open(cfg.ModelRoot, cfg.CacheSize)
	if err != nil {
		logging.Fatal(setupLog, err, "Failed to open model registry", "root", cfg.ModelRoot)
	}
	store.Log = log.WithName("registry")
	store.Activity = activityLog
	store.Recorder = policyStore

	// Scoring hot path.
	collectorSet := metrics.NewCollectors()
	svc := scoring.New(store)
	svc.Policies = policyStore
	svc.Threshold = cfg.Threshold
	svc.Timeout = cfg.ScoreTimeout()
	svc.DefaultConstraints = cfg.DefaultConstraints
	svc.Latency = metrics.NewLatencyTracker(0.2)
	svc.Collectors = collectorSet
	svc.Activity = activityLog
	svc.Log = log.WithName("scoring")
	if cfg.LegacyFallback {
		r := legacy.NewResolver(cfg.LegacyRoot)
		r.Files = cfg.LegacyFiles
		svc.Legacy = r
	}

	reporter := status.NewReporter(store, cfg.DefaultConstraints)
	reporter.Latency = svc.Latency

	w := warmer.New(store)
	w.Activity = activityLog
	w.Interval = cfg.WarmInterval()
	w.Log = log.WithName("warmer")
	go w.Run(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := collectorSet.Register(reg); err != nil {
		logging.Fatal(setupLog, err, "Failed to register metrics")
	}

	// gRPC server.
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logging.Fatal(setupLog, err, "gRPC listen failed", "addr", cfg.GRPCAddr)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(rpc.UnaryLogger(log.WithName("grpc"))))
	rpcServer := rpc.NewServer(svc, reporter)
	rpcServer.DefaultFamily = cfg.DefaultFamily
	rpc.Register(grpcServer, rpcServer)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		setupLog.Info("gRPC listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(grpcLis); err != nil {
			logging.Fatal(setupLog, err, "gRPC serve failed")
		}
	}()

	// HTTP server (API and metrics on the same port).
	mux := http.NewServeMux()
	api := httpapi.NewHandler(svc, reporter)
	api.Policies = policyStore
	api.DefaultFamily = cfg.DefaultFamily
	api.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	handler := httpx.CORS{AllowOrigin: "*"}.Wrap(httpx.RequestID{Log: log.WithName("http")}.Wrap(mux))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.ScoreTimeout() + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		setupLog.Info("Shutting down")
		healthServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
	}()

	setupLog.Info("HTTP listening", "addr", cfg.HTTPAddr, "modelRoot", cfg.ModelRoot, "legacyFallback", cfg.LegacyFallback)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal(setupLog, err, "HTTP serve failed")
	}
}
