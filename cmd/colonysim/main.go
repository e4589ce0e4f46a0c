// Command colonysim runs the Mars colony simulation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/talgya/mars-colony/internal/agents"
	"github.com/talgya/mars-colony/internal/api"
	"github.com/talgya/mars-colony/internal/config"
	"github.com/talgya/mars-colony/internal/engine"
	"github.com/talgya/mars-colony/internal/persistence"
	"github.com/talgya/mars-colony/internal/simerr"
	"github.com/talgya/mars-colony/internal/simtime"
	"github.com/talgya/mars-colony/internal/social"
)

func main() {
	cfg, err := config.Load(os.Getenv("COLONYSIM_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Mars colony simulation",
		"seed", cfg.Seed,
		"tick_millisols", cfg.TickMillisols,
		"save_path", cfg.SaveFile(),
	)

	// ── Load or Generate World State ─────────────────────────────────
	catalog := agents.DefaultCatalog()
	opts := engine.Options{
		Seed:      cfg.Seed,
		Start:     simtime.SimTime{Sol: 1},
		Retention: cfg.LedgerRetentionSols,
		Catalog:   catalog,
	}

	world, resumed, err := loadOrGenerate(cfg, opts)
	if err != nil {
		slog.Error("failed to build world", "error", err)
		os.Exit(1)
	}
	view := world.View()
	slog.Info("world ready",
		"people", view.Stats.People,
		"robots", view.Stats.Robots,
		"vehicles", view.Stats.Vehicles,
		"settlements", len(world.Settlements().All()),
		"time", world.CurrentTime().String(),
	)

	// ── Engine ────────────────────────────────────────────────────────
	eng, err := engine.NewEngine(world, cfg.TickMillisols, cfg.TickInterval())
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	defer eng.Close()
	if cfg.Speed > 0 {
		if err := eng.SetSpeed(cfg.Speed); err != nil {
			slog.Error("bad speed", "error", err)
			os.Exit(1)
		}
	} else {
		eng.Pause()
	}

	saver := persistence.NewCoordinator(eng, cfg.SaveFile())

	// Save on fresh generation only (loaded worlds are already saved).
	if !resumed {
		if _, err := saver.SaveAndWait(context.Background(), "", cfg.SaveTimeout()); err != nil {
			slog.Error("initial save failed", "error", err)
		}
	}

	// Wire tick listeners: autosave every N sols.
	if cfg.AutosaveEverySols > 0 {
		eng.OnTick(autosave(saver, world.CurrentTime().Sol, cfg.AutosaveEverySols))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Headless mode ────────────────────────────────────────────────
	if n := envIntOrDefault("COLONYSIM_TICKS", 0); n > 0 {
		slog.Info("running headless", "ticks", n)
		eng.Resume()
		if err := eng.RunTicks(ctx, n); err != nil {
			slog.Error("headless run failed", "error", err)
		}
		saver.Wait()
		finalSave(saver, cfg)
		return
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("COLONYSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	apiServer := &api.Server{
		Eng:            eng,
		Saver:          saver,
		Port:           cfg.APIPort,
		AdminKey:       cfg.AdminKey,
		SaveDir:        cfg.SaveDir(),
		SaveTimeout:    cfg.SaveTimeout(),
		TrustedProxies: cfg.TrustedProxies,
	}
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		eng.Stop()
	}()

	fmt.Printf("\nColony is alive: %d people, %d robots, %d vehicles across %d settlements.\n",
		view.Stats.People, view.Stats.Robots, view.Stats.Vehicles, len(world.Settlements().All()))
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.APIPort)
	if resumed {
		fmt.Printf("Resuming from tick %d (%s)\n", world.CurrentTick(), world.CurrentTime())
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	if err := eng.Run(ctx); err != nil {
		slog.Error("simulation stopped with error", "error", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}

	// Final save on shutdown. The engine is stopped, so snapshot through the
	// world directly.
	saver.Wait()
	finalSave(persistence.NewCoordinator(stoppedSource{world}, cfg.SaveFile()), cfg)

	fmt.Println("Simulation stopped. Colony state saved.")
}

// loadOrGenerate restores the world from the configured save, or builds a
// fresh one from config.
func loadOrGenerate(cfg config.Config, opts engine.Options) (*engine.World, bool, error) {
	path := cfg.SaveFile()
	if persistence.Exists(path) {
		slog.Info("found saved colony state, loading...", "path", path)
		snap, err := persistence.Load(path)
		if err != nil {
			return nil, false, err
		}
		w, err := engine.RestoreWorld(snap, opts)
		if err != nil {
			return nil, false, err
		}
		return w, true, nil
	}

	slog.Info("generating fresh colony...")
	setts := make([]*social.Settlement, 0, len(cfg.Settlements))
	for i, sc := range cfg.Settlements {
		st := &social.Settlement{ID: uint64(i + 1), Name: sc.Name}
		if len(sc.Agenda) > 0 {
			st.Agenda = social.NewMissionAgenda(sc.Name+" mission", sc.Agenda)
		}
		setts = append(setts, st)
	}
	w := engine.NewWorld(opts, setts)
	for i, sc := range cfg.Settlements {
		spawned, err := w.Populate(uint64(i+1), sc.People, sc.Robots, sc.Vehicles)
		if err != nil {
			return nil, false, err
		}
		slog.Info("settlement founded", "name", sc.Name, "agents", len(spawned))
	}
	return w, false, nil
}

// autosave returns a tick listener that requests a save every `every` sols.
func autosave(saver *persistence.Coordinator, startSol, every uint64) func(engine.TickEvent) {
	last := startSol
	return func(ev engine.TickEvent) {
		if ev.Time.Sol < last+every {
			return
		}
		last = ev.Time.Sol
		saver.RequestSave("", func(se persistence.SaveEvent) {
			switch {
			case se.Kind == persistence.SaveCompleted:
				slog.Debug("autosave done", "request", se.RequestID, "tick", se.Tick)
			case errors.Is(se.Err, simerr.ErrConcurrentSave):
				slog.Warn("autosave skipped, save already running", "request", se.RequestID)
			default:
				slog.Error("autosave failed", "request", se.RequestID, "reason", se.Reason, "error", se.Err)
			}
		})
	}
}

func finalSave(saver *persistence.Coordinator, cfg config.Config) {
	slog.Info("final save...")
	if _, err := saver.SaveAndWait(context.Background(), "", cfg.SaveTimeout()); err != nil {
		slog.Error("final save failed", "error", err)
	}
}

// stoppedSource snapshots a world whose tick loop is no longer running.
type stoppedSource struct{ w *engine.World }

func (s stoppedSource) Snapshot(context.Context) (*engine.Snapshot, error) {
	return s.w.Snapshot(), nil
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
