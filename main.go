package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"reconcile/irc/networks"
	"reconcile/irc/plugins"
	"reconcile/irc/plugins/builtin"
	"reconcile/logger"
	"reconcile/metrics"
	"reconcile/settings"
	"reconcile/store"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("reconcile", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "config.toml", "path to the configuration file")
	logLevel := flagSet.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	config, err := settings.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		config.Logging.Level = logger.LogLevel(*logLevel)
	}
	logger.Init(config.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	channelStore, err := store.Open(config.Storage.Path)
	if err != nil {
		return err
	}
	defer channelStore.Close()
	go channelStore.RunMerger(ctx, store.MergeInterval)

	stats := metrics.New()
	if config.Metrics.Address != "" {
		server := stats.Serve(config.Metrics.Address)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Metrics server shutdown failed", "error", err)
			}
		}()
	}

	catalog := plugins.NewCatalog()
	builtin.Register(catalog)

	// A plugin requesting shutdown stops every network.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	onShutdown := func(reason string) {
		logger.Info("Shutting down", "reason", reason)
		cancel()
	}

	logger.Info("Starting", "version", config.Version(), "networks", len(config.Networks))

	enabled, err := buildNetworks(config,
		networks.WithStore(channelStore),
		networks.WithMetrics(stats),
		networks.WithCatalog(catalog),
		networks.WithShutdownHook(onShutdown),
	)
	if err != nil {
		return err
	}

	var waitGroup sync.WaitGroup
	for _, network := range enabled {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if err := network.Run(runCtx); err != nil {
				logger.Error("Network stopped", "network", network.Network(), "error", err)
				return
			}
			logger.Info("Network stopped", "network", network.Network())
		}()
	}

	waitGroup.Wait()
	return nil
}

// buildNetworks creates every enabled network in name order. Nothing is
// started, so a configuration error leaves no network running.
func buildNetworks(config *settings.Config, opts ...networks.Option) ([]*networks.Network, error) {
	names := make([]string, 0, len(config.Networks))
	for name := range config.Networks {
		names = append(names, name)
	}
	sort.Strings(names)

	var enabled []*networks.Network
	for _, name := range names {
		if !config.Networks[name].Enabled {
			logger.Info("Network disabled, skipping", "network", name)
			continue
		}

		network, err := networks.New(name, config, opts...)
		if err != nil {
			return nil, err
		}
		enabled = append(enabled, network)
	}
	return enabled, nil
}
