package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/HerbHall/simon/internal/aggregator"
	"github.com/HerbHall/simon/internal/config"
	"github.com/HerbHall/simon/internal/logger"
	"github.com/HerbHall/simon/internal/sampler"
	"github.com/HerbHall/simon/internal/scheduler"
	"github.com/HerbHall/simon/internal/server"
	"github.com/HerbHall/simon/internal/store"
	"github.com/HerbHall/simon/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simon: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "simon: %v\n", err)
			os.Exit(1)
		}
		if _, err := os.Stdout.Write(out); err != nil {
			fmt.Fprintf(os.Stderr, "simon: %v\n", err)
			os.Exit(1)
		}
		return
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simon: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync(log)

	log.Info("simon starting",
		zap.String("version", version.Short()),
		zap.Duration("interval", cfg.Collection.Interval),
		zap.String("cpu_mode", cfg.Collection.CPUMode),
	)

	st := store.New()
	agg, err := aggregator.New(st, cfg.AggregatorConfig(), log.Named("aggregator"))
	if err != nil {
		log.Fatal("failed to register metric families", zap.Error(err))
	}

	smp, err := sampler.New(cfg.SamplerConfig(), log.Named("sampler"))
	if err != nil {
		log.Fatal("failed to create sampler", zap.Error(err))
	}

	sched := scheduler.New(smp, agg, cfg.SchedulerConfig(), log.Named("scheduler"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		store.NewCollector(st),
		version.NewCollector(cfg.Metrics.Namespace),
	)
	if err := sched.Register(reg); err != nil {
		log.Fatal("failed to register scheduler metrics", zap.Error(err))
	}
	if cfg.Metrics.RuntimeCollectors {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		log.Fatal("failed to start collection loop", zap.Error(err))
	}

	srv := server.New(cfg.ServerConfig(), reg, func() server.Health {
		state := sched.State()
		return server.Health{
			Healthy:   state == scheduler.StateRunning,
			State:     state.String(),
			LastCycle: sched.LastCycle(),
		}
	}, log.Named("http"))

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	log.Info("simon ready", zap.String("addr", cfg.Server.ListenAddress))

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error("collection loop shutdown error", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	log.Info("simon stopped")
}
