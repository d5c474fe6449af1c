// Command marketsim runs the marketplace economic simulation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/market-sim/internal/api"
	"github.com/talgya/market-sim/internal/config"
	"github.com/talgya/market-sim/internal/engine"
	"github.com/talgya/market-sim/internal/entropy"
	"github.com/talgya/market-sim/internal/persistence"
)

func main() {
	var (
		configPath   = flag.String("config", "", "YAML or JSON configuration (default: embedded)")
		dbPath       = flag.String("db", "data/marketsim.db", "history database path (empty to disable)")
		snapPath     = flag.String("snapshot", "data/marketsim.zst", "state snapshot path, resumed from when present (empty to disable)")
		snapEvery    = flag.Int("snapshot.every", 30, "write a snapshot every N simulated days (0 to disable)")
		fresh        = flag.Bool("fresh", false, "ignore an existing snapshot and start from day 0")
		resolverName = flag.String("resolver", "liquidate", "bankruptcy resolution: liquidate or freeze")
		apiPort      = flag.Int("port", 8080, "HTTP API port (0 to disable)")
		logLevel     = flag.String("log.level", "info", "log level: debug, info, warn, error")
		headless     = flag.Int("days", 0, "simulate N days as fast as possible, then exit")
	)
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log.level %q\n", *logLevel)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("market-sim: agent-based marketplace simulation")

	// ── State ─────────────────────────────────────────────────────────
	st, rng, runID, err := loadOrInitialize(*configPath, *snapPath, *resolverName, *fresh)
	if err != nil {
		slog.Error("failed to prepare simulation", "error", err)
		os.Exit(1)
	}
	slog.Info("economy ready",
		"day", st.Day,
		"people", len(st.People),
		"businesses", st.Stats.ActiveBusinesses,
		"money_supply", st.Ledger.Issued().String(),
		"resolver", st.ResolverName,
	)

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if *dbPath != "" {
		os.MkdirAll(filepath.Dir(*dbPath), 0o755)
		db, err = persistence.Open(*dbPath)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if runID, err = db.StartRun(st, runID); err != nil {
			slog.Error("failed to register run", "error", err)
			os.Exit(1)
		}
		slog.Info("database opened", "path", *dbPath, "run", runID)
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.New(st, rng)

	hub := api.NewHub()
	apiServer := &api.Server{
		Eng:          eng,
		DB:           db,
		Hub:          hub,
		Port:         *apiPort,
		AdminKey:     os.Getenv("MARKETSIM_ADMIN_KEY"),
		SnapshotPath: *snapPath,
	}

	save := func() {
		if *snapPath == "" {
			return
		}
		s, pos, err := eng.Snapshot()
		if err == nil {
			err = persistence.WriteSnapshot(*snapPath, runID, s, pos)
		}
		if err != nil {
			slog.Error("snapshot failed", "error", err)
			return
		}
		slog.Info("snapshot saved", "day", s.Day, "path", *snapPath)
	}

	eng.OnDay = func(s *engine.State) {
		if db != nil {
			if err := db.SaveDay(s); err != nil {
				slog.Error("daily save failed", "day", s.Day-1, "error", err)
			}
		}
		apiServer.PublishDay(s)
		if *snapEvery > 0 && s.Day%uint64(*snapEvery) == 0 {
			save()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *headless > 0 {
		apiServer.Hub = nil
		runHeadless(ctx, eng, *headless)
		save()
		return
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if apiServer.AdminKey == "" {
		slog.Warn("MARKETSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if *apiPort > 0 {
		srv := apiServer.Start()
		g.Go(func() error {
			<-gctx.Done()
			shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdown)
		})
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", *apiPort)
	}

	fmt.Printf("\nMarket open: %s people, %d businesses, %d goods.\n",
		humanize.Comma(int64(len(st.People))), st.Stats.ActiveBusinesses, len(st.Config.Goods))
	if st.Day > 0 {
		fmt.Printf("Resuming from day %d\n", st.Day)
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	g.Go(func() error {
		eng.Run(gctx)
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("shutdown error", "error", err)
	}

	// Final save on shutdown.
	save()
	fmt.Println("Simulation stopped.")
}

// loadOrInitialize resumes from the snapshot at snapPath when one exists,
// otherwise builds day 0 from the configuration.
func loadOrInitialize(configPath, snapPath, resolverName string, fresh bool) (*engine.State, *entropy.Source, string, error) {
	if snapPath != "" && !fresh {
		hdr, st, rng, err := persistence.ReadSnapshot(snapPath)
		switch {
		case err == nil:
			if configPath != "" {
				slog.Warn("resuming from snapshot, -config ignored", "config", configPath)
			}
			slog.Info("snapshot restored", "path", snapPath, "day", hdr.Day, "run", hdr.RunID)
			return st, rng, hdr.RunID, nil
		case !errors.Is(err, os.ErrNotExist):
			return nil, nil, "", fmt.Errorf("read snapshot: %w", err)
		}
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, nil, "", err
		}
	}
	resolver, err := engine.ResolverByName(resolverName)
	if err != nil {
		return nil, nil, "", err
	}
	st, err := engine.Initialize(cfg, engine.WithResolver(resolver))
	if err != nil {
		return nil, nil, "", err
	}
	return st, entropy.New(uint64(cfg.Game.Seed.Get())), "", nil
}

// runHeadless simulates days back to back, ignoring the game speed.
func runHeadless(ctx context.Context, eng *engine.Engine, days int) {
	start := time.Now()
	for i := 0; i < days && ctx.Err() == nil; i++ {
		s := eng.Step()
		s.Report()
		if eng.OnDay != nil {
			eng.OnDay(s)
		}
	}
	slog.Info("headless run finished",
		"day", eng.State().Day,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}
