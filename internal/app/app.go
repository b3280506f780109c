// Package app assembles the bridge daemon from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/gitpod-io/gitpod-sub012/internal/admission"
	"github.com/gitpod-io/gitpod-sub012/internal/analytics"
	"github.com/gitpod-io/gitpod-sub012/internal/api"
	"github.com/gitpod-io/gitpod-sub012/internal/bridge"
	"github.com/gitpod-io/gitpod-sub012/internal/clusters"
	"github.com/gitpod-io/gitpod-sub012/internal/instance"
	"github.com/gitpod-io/gitpod-sub012/internal/observability"
	"github.com/gitpod-io/gitpod-sub012/internal/prebuild"
	"github.com/gitpod-io/gitpod-sub012/internal/publisher"
	"github.com/gitpod-io/gitpod-sub012/internal/registry"
	"github.com/gitpod-io/gitpod-sub012/internal/store"
	"github.com/gitpod-io/gitpod-sub012/internal/wsman"
)

const serviceName = "ws-manager-bridge"

// Run starts every component and blocks until ctx is done or a server
// fails, then shuts everything down.
func Run(ctx context.Context, cfg Config, log *zap.Logger) error {
	shutdownTracing, err := observability.InitTracing(serviceName, cfg.TracingExporter, cfg.TracingSampleRatio)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	static, err := clusters.Load(cfg.StaticClustersFile)
	if err != nil {
		return err
	}

	st, db, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	pub, err := publisher.New(cfg.publisher(), log)
	if err != nil {
		return fmt.Errorf("publisher: %w", err)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Warn("publisher close failed", zap.Error(err))
		}
	}()

	aw := analytics.New(cfg.AnalyticsWriter, log)
	updater := prebuild.NewUpdater(st, pub, log)
	lifecycle := instance.NewLifecycle(st, st, updater, pub, aw, log)

	factory := bridge.NewFactory(bridge.Deps{
		Store:      st,
		Prebuilds:  updater,
		Lifecycle:  lifecycle,
		Analytics:  aw,
		Dialer:     wsman.TLSDialer,
		Controller: cfg.controller(),
		RetryDelay: cfg.StreamRetryDelay,
		Log:        log,
	})
	reg := registry.New(registry.Config{
		Installation:           cfg.Installation,
		ReconcileInterval:      cfg.ReconcileInterval,
		ClassDiscoveryInterval: cfg.ClassDiscoveryInterval,
		DescribeTimeout:        cfg.DescribeTimeout,
	}, st, static, factory, log)
	sweep := instance.NewController(cfg.controller(), st, lifecycle, log)
	adm := admission.NewService(admission.Config{
		Installation: cfg.Installation,
		ProbeTimeout: cfg.ProbeTimeout,
	}, st, st, static, admission.DialProber(wsman.TLSDialer), reg, log)

	grpcSrv := grpc.NewServer()
	admission.RegisterClusterServiceServer(grpcSrv, adm)
	lis, err := net.Listen("tcp", cfg.AdmissionAddr)
	if err != nil {
		return fmt.Errorf("admission listen %s: %w", cfg.AdmissionAddr, err)
	}

	apiSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewAPI(adm, reg, st, db, log).Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reg.Start(gctx)
		return nil
	})
	g.Go(func() error {
		sweep.RunAppCluster(gctx, cfg.Installation)
		return nil
	})
	g.Go(func() error {
		log.Info("admission server starting", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("admission server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("API server starting", zap.String("addr", cfg.HTTPAddr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down ws-manager-bridge")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		gracefulStop(shutdownCtx, grpcSrv)
		adm.Close()
		reg.Stop()
		_ = apiSrv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		return nil
	})

	err = g.Wait()
	log.Info("ws-manager-bridge stopped", zap.Error(err))
	return err
}

func openStore(ctx context.Context, cfg Config, log *zap.Logger) (store.Store, api.Pinger, func(), error) {
	if cfg.DBDSN == "" {
		log.Warn("no database configured, using the in-memory store")
		return store.NewMemory(), nil, func() {}, nil
	}

	pool, err := store.NewPool(ctx, cfg.DBDSN, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("db connect: %w", err)
	}
	if err := store.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("db migrate: %w", err)
	}
	pg := store.NewPostgres(pool)
	return pg, pg, pool.Close, nil
}

// gracefulStop waits for in-flight RPCs until ctx ends, then cuts them off.
func gracefulStop(ctx context.Context, srv *grpc.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
		<-done
	}
}
