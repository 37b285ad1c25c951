package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"activityd/internal/bridge"
	"activityd/internal/collector"
	"activityd/internal/focus"
	"activityd/internal/logging"
	"activityd/internal/storage"
	"activityd/internal/strategy"
	"activityd/internal/timeline"
)

// runCmd is the daemon: bridge hub plus collector.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the collection daemon",
	Long: `Starts the bridge hub and the collector. With focus tracking enabled the
daemon follows the focused window and drives one strategy per focus session;
otherwise it only performs storage maintenance.

Stop with SIGINT/SIGTERM.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.Get(logging.CategoryBoot)

	store, err := timeline.NewSQLiteStore(cfg.Timeline.DatabasePath)
	if err != nil {
		return fmt.Errorf("open timeline store: %w", err)
	}
	defer store.Close()

	assets, err := storage.NewAssetStorage(storage.Options{
		BaseDir:        cfg.Storage.BaseDir,
		OrganizeByType: cfg.Storage.OrganizeByType,
		UseContentHash: cfg.Storage.UseContentHash,
		MaxFileSize:    cfg.Storage.MaxFileSize,
	})
	if err != nil {
		return fmt.Errorf("open asset storage: %w", err)
	}
	janitor, err := storage.NewJanitor(assets, cfg.GetRetention(), time.Hour)
	if err != nil {
		return fmt.Errorf("create storage janitor: %w", err)
	}

	hub := bridge.NewServer()
	grpcServer := grpc.NewServer()
	hub.Attach(grpcServer)

	lis, err := net.Listen("tcp", cfg.Bridge.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Bridge.ListenAddr, err)
	}

	svc := collector.NewService(collector.Options{
		Config:   cfg.Collector,
		Hook:     &focus.XdotoolHook{},
		Selector: strategy.NewSelector(hub, cfg.Collector.DevtoolsURL),
		Timeline: store,
		Assets:   assets,
		Janitor:  janitor,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("bridge hub listening", "addr", lis.Addr().String())
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcServer.GracefulStop()
		return nil
	})

	if err := svc.Start(ctx); err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	<-ctx.Done()
	log.Infow("shutting down")
	if err := svc.Stop(); err != nil {
		log.Warnw("collector stop failed", "error", err)
	}
	return g.Wait()
}
