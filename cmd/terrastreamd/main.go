// terrastreamd is the demo host for the streaming core: it flies a viewpoint
// along a waypoint loop and streams procedurally generated terrain cells
// around it, optionally caching generated cells in PostgreSQL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/terrastream/engine/internal/config"
	"github.com/terrastream/engine/internal/core/event"
	coresys "github.com/terrastream/engine/internal/core/system"
	"github.com/terrastream/engine/internal/data"
	"github.com/terrastream/engine/internal/grid"
	"github.com/terrastream/engine/internal/loader"
	"github.com/terrastream/engine/internal/persist"
	"github.com/terrastream/engine/internal/scripting"
	"github.com/terrastream/engine/internal/streaming"
	"github.com/terrastream/engine/internal/system"
	"github.com/terrastream/engine/internal/terrain"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/terrastreamd.toml"
	if p := os.Getenv("TERRASTREAM_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg := config.Defaults()
	if _, err := os.Stat(cfgPath); err == nil {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	log.Info("terrastream starting",
		zap.String("name", cfg.Server.Name),
		zap.Int64("seed", cfg.Generator.Seed),
		zap.Duration("tick", cfg.Server.TickRate))

	// 3. Optional database-backed cell cache
	var cache terrain.CellCache
	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err := persist.NewDB(ctx, cfg.Database, log)
		cancel()
		if err != nil {
			return fmt.Errorf("connect db: %w", err)
		}
		defer db.Close()

		migCtx, migCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = persist.RunMigrations(migCtx, db.Pool)
		migCancel()
		if err != nil {
			return fmt.Errorf("migrate db: %w", err)
		}

		repo, err := persist.NewCellRepo(db, cfg.Generator.Seed, log)
		if err != nil {
			return err
		}
		cache = repo
		log.Info("cell cache enabled")
	}

	// 4. Optional Lua shaping hook
	var script *scripting.Engine
	if cfg.Generator.ScriptPath != "" {
		script, err = scripting.NewEngine(cfg.Generator.ScriptPath, log)
		if err != nil {
			return err
		}
		defer script.Close()
	}

	// 5. Layer manifest
	layers := data.DefaultLayerTable()
	if cfg.Generator.LayerManifest != "" {
		layers, err = data.LoadLayerTable(cfg.Generator.LayerManifest)
		if err != nil {
			return err
		}
	}

	// 6. Build the core: generator → scheduler → provider → manager
	bus := event.NewBus()
	gen := terrain.NewGenerator(cfg.Generator.Seed, cfg.Streaming.CellSize, script, log)

	sched, err := loader.New(loader.Config{
		MaxConcurrentLoads: cfg.Loader.MaxConcurrentLoads,
		RetryAttempts:      cfg.Loader.RetryAttempts,
		RetryDelay:         cfg.Loader.RetryDelay,
	}, loader.Callbacks{
		LayerLoaded: func(layer loader.Layer, x, z int) {
			bus.Emit(event.Event{Kind: event.KindLayerLoaded, Coord: grid.Coord{X: x, Z: z}, Layer: layer})
		},
		LayerError: func(layer loader.Layer, x, z int, msg string) {
			bus.Emit(event.Event{Kind: event.KindLayerFailed, Coord: grid.Coord{X: x, Z: z}, Layer: layer, Err: msg})
		},
	}, log)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}
	defer sched.Close()

	provider := terrain.NewProvider(gen, sched, layers, cache, log)

	mgr, err := streaming.New(streaming.Config{
		CellSize:           cfg.Streaming.CellSize,
		Rings:              cfg.Streaming.Rings(),
		UnloadDelay:        cfg.Streaming.UnloadDelay,
		MaxConcurrentLoads: cfg.Streaming.MaxConcurrentLoads,
		MaxDispatchPerTick: cfg.Streaming.MaxDispatchPerTick,
		RecomputeInterval:  cfg.Streaming.RecomputeInterval,
	}, streaming.Callbacks{
		LoadCell: provider.LoadCell,
		UnloadCell: func(x, z int) {
			provider.UnloadCell(x, z)
			bus.Emit(event.Event{Kind: event.KindCellUnloaded, Coord: grid.Coord{X: x, Z: z}})
		},
		UpdateCellLOD: func(x, z int, lod grid.LOD) {
			provider.UpdateCellLOD(x, z, lod)
			bus.Emit(event.Event{Kind: event.KindCellLODChanged, Coord: grid.Coord{X: x, Z: z}, LOD: lod})
		},
		CellReady: func(x, z int, lod grid.LOD) {
			provider.CellReady(x, z, lod)
			bus.Emit(event.Event{Kind: event.KindCellLoaded, Coord: grid.Coord{X: x, Z: z}, LOD: lod})
		},
	}, log)
	if err != nil {
		return fmt.Errorf("build streamer: %w", err)
	}
	defer mgr.Close()

	// 7. Register systems with the phase runner
	viewpoint := system.NewFlythroughSystem(cfg.Flythrough)
	runner := coresys.NewRunner()
	runner.Register(system.NewEventsSystem(bus))
	runner.Register(viewpoint)
	runner.Register(system.NewStreamSystem(mgr, viewpoint))
	runner.Register(system.NewLayerDrainSystem(sched))
	runner.Register(system.NewStatsSystem(mgr, sched, provider, 100, log))
	if cache != nil {
		runner.Register(system.NewCacheWriteSystem(cache, provider, bus, log))
	}

	// 8. Prime the starting area so the first frames have ground under them
	if len(cfg.Flythrough.Waypoints) > 0 {
		start := cfg.Flythrough.Waypoints[0]
		mgr.ForceLoadAround(start.X, start.Z)
		log.Info("near ring primed", zap.Float64("x", start.X), zap.Float64("z", start.Z))
	}

	// 9. Tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Server.TickRate)
	defer ticker.Stop()

	log.Info("tick loop running")
	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Server.TickRate)
		case sig := <-shutdownCh:
			log.Info("shutdown signal", zap.String("signal", sig.String()))
			st := mgr.Stats()
			log.Info("final stats",
				zap.Int("cells_total", st.TotalCells),
				zap.Int("cells_loaded", st.LoadedCells),
				zap.Int("layers_loaded", sched.Stats().Loaded))
			return nil
		}
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
