// Command virtual-ldap serves a read-mostly LDAP directory synthesized from a
// DingTalk or WeCom roster.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/isometry/virtual-ldap/internal/cache"
	"github.com/isometry/virtual-ldap/internal/config"
	"github.com/isometry/virtual-ldap/internal/credential"
	"github.com/isometry/virtual-ldap/internal/ldap"
	"github.com/isometry/virtual-ldap/internal/metrics"
	"github.com/isometry/virtual-ldap/internal/roster"
	"github.com/isometry/virtual-ldap/internal/roster/dingtalk"
	"github.com/isometry/virtual-ldap/internal/roster/wecom"
	"github.com/isometry/virtual-ldap/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "virtual-ldap: %v\n", err)
		os.Exit(1)
	}
}

func newRegistry() (*roster.Registry, error) {
	registry := roster.NewRegistry()
	if err := registry.Register(dingtalk.Name, dingtalk.New); err != nil {
		return nil, err
	}
	if err := registry.Register(wecom.Name, wecom.New); err != nil {
		return nil, err
	}
	return registry, nil
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := ldap.NewLogger("virtual-ldap", cfg.LoggerOptions())

	// The wire library logs through the standard logger.
	log.SetFlags(0)
	log.SetOutput(logger.Named("wire").StandardLogger().StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	layout, err := ldap.NewLayout(cfg.Directory())
	if err != nil {
		return err
	}

	registry, err := newRegistry()
	if err != nil {
		return err
	}
	provider, err := registry.Create(cfg.Provider.Name, logger.Named(cfg.Provider.Name))
	if err != nil {
		return err
	}
	if err := provider.Setup(ctx, cfg.Provider); err != nil {
		return fmt.Errorf("set up %s provider: %w", provider.Name(), err)
	}

	fetchCache, err := cache.New(cfg.Cache, logger.Named("cache"))
	if err != nil {
		return err
	}
	if closer, ok := fetchCache.(io.Closer); ok {
		defer closer.Close()
	}

	store, err := credential.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()
	snapshots := ldap.NewSnapshots()

	orchestrator := roster.NewOrchestrator(roster.OrchestratorConfig{
		Provider:  provider,
		Layout:    layout,
		Snapshots: snapshots,
		Cache:     fetchCache,
		Options:   cfg.Provider,
		Logger:    logger.Named("sync"),
		Recorder:  m,
	})

	if err := orchestrator.Sync(ctx); err != nil {
		logger.Error("Initial sync failed, serving base entries until the next pass", map[string]any{"error": err.Error()})
	}
	orchestrator.Start(ctx)
	defer orchestrator.Stop()

	directory := ldap.NewDirectory(layout, snapshots, store, logger.Named("directory"))
	ldapServer := server.New(directory, cfg.LDAP.Config, logger.Named("server"), m)

	ln, err := net.Listen("tcp", cfg.LDAP.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.LDAP.Listen, err)
	}

	var metricsServer *metrics.Server
	var metricsListener net.Listener
	if cfg.Metrics.Listen != "" {
		metricsListener, err = net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen on %s: %w", cfg.Metrics.Listen, err)
		}
		metricsServer = metrics.NewServer(cfg.Metrics.Listen, m, snapshots, logger.Named("metrics"))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ldapServer.Serve(ln)
	})

	if metricsServer != nil {
		g.Go(func() error {
			return metricsServer.Serve(metricsListener)
		})
	}

	g.Go(func() error {
		reloadOnHangup(gctx, orchestrator, logger)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", nil)
		ldapServer.Shutdown()
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

// reloadOnHangup runs an uncached sync pass on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, orchestrator *roster.Orchestrator, logger ldap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("Received SIGHUP, reloading roster", nil)
			err := orchestrator.Reload(ctx)
			switch {
			case errors.Is(err, roster.ErrSyncInProgress):
				logger.Warn("Reload skipped, a sync pass is already running", nil)
			case err != nil:
				logger.Error("Reload failed, keeping previous snapshot", map[string]any{"error": err.Error()})
			}
		}
	}
}
