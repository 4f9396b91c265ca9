// Package main is the entry point for the tgfleet multi-bot relay. The
// routing engine and the admin surface are independently startable and share
// the same JSON table store.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/tgfleet/tgfleet/internal/admin"
	"github.com/tgfleet/tgfleet/internal/bot"
	"github.com/tgfleet/tgfleet/internal/config"
	"github.com/tgfleet/tgfleet/internal/logger"
	"github.com/tgfleet/tgfleet/internal/router"
	"github.com/tgfleet/tgfleet/internal/scheduler"
	"github.com/tgfleet/tgfleet/internal/session"
	"github.com/tgfleet/tgfleet/internal/settlement"
	"github.com/tgfleet/tgfleet/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires config, store, engine, and admin surface, then blocks until the
// context is cancelled. Returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	runBot := flag.Bool("run-bot", false, "Run the bot routing engine")
	runWeb := flag.Bool("run-web", false, "Run the admin surface")
	runAll := flag.Bool("all", false, "Run both the engine and the admin surface")
	flag.Parse()

	// No mode flag means both, so a bare invocation does something useful.
	if *runAll || (!*runBot && !*runWeb) {
		*runBot = true
		*runWeb = true
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	st, err := store.NewFileStore(cfg.Data.Dir, log)
	if err != nil {
		log.Error("Failed to open data directory", "dir", cfg.Data.Dir, "error", err)
		return 1
	}

	var (
		registry *session.Registry
		sched    *scheduler.Scheduler
		engine   *bot.Engine
	)
	if *runBot {
		registry = session.NewRegistry(log, session.NewTelegramFactory(log, cfg.Engine.SendTimeout))

		responder := settlement.NewResponder(settlement.StaticService{}, log, cfg.Engine.SettlementErrorMessage)
		rtr := router.New(st, registry, responder, log, cfg.Engine.SettlementKeyword)
		registry.SetHandler(rtr)

		sched, err = scheduler.New(log, registry)
		if err != nil {
			log.Error("Failed to create scheduler", "error", err)
			return 1
		}
		engine = bot.NewEngine(log, st, registry, sched)
	}

	g, gCtx := errgroup.WithContext(ctx)

	if *runBot {
		g.Go(func() error { return engine.Run(gCtx) })
	}
	if *runWeb {
		// The live hooks are only wired when the engine runs in-process;
		// a web-only instance mutates the store alone.
		var registrar admin.BotRegistrar
		var rules admin.RuleScheduler
		if registry != nil {
			registrar = registry
		}
		if sched != nil {
			rules = sched
		}
		svc := admin.NewService(st, registrar, rules, log)
		srv := admin.NewServer(cfg.Admin.ListenAddr, svc, log)
		g.Go(func() error { return srv.Run(gCtx) })
	}

	log.Info("tgfleet started", "engine", *runBot, "admin", *runWeb)

	if err := g.Wait(); err != nil {
		log.Error("Stopped with error", "error", err)
		return 1
	}
	log.Info("Stopped gracefully")
	return 0
}
