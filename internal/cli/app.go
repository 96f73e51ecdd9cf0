package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"code.cloudfoundry.org/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/chenyanchen/hotreload"
	"github.com/chenyanchen/hotreload/exp/manifest"
	"github.com/chenyanchen/hotreload/internal/config"
	"github.com/chenyanchen/hotreload/source"
	"github.com/chenyanchen/hotreload/watch"
)

// assetStore is the registry name of the store holding configured assets.
const assetStore = "assets"

// buildLogger can be overridden in tests.
var buildLogger = newLogger

// app wires one config file into a running reload registry.
type app struct {
	cfg         *config.Config
	configSrc   *source.File[*config.Config]
	manifestSrc *source.File[manifest.Manifest] // nil without a manifest file
	logger      *zap.Logger

	// pending is a loaded config whose assets are not applied yet. It is
	// retried on every due frame until the reconcile succeeds.
	pending *config.Config

	strategy   *hotreload.Strategy
	clock      *hotreload.FrameClock
	store      *hotreload.Store[any]
	registry   *hotreload.Registry
	reconciler *manifest.Reconciler
	metrics    *prometheus.Registry
	watcher    *watch.Watcher
}

// loadApp reads the config at path and loads every declared asset.
// clk drives frame timing; nil uses the real clock.
func loadApp(ctx context.Context, path string, clk clock.Clock) (*app, error) {
	if clk == nil {
		clk = clock.NewClock()
	}
	configSrc := source.NewFile(path, config.Format(filepath.Dir(path)))
	cfg, err := configSrc.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	strategy, err := cfg.NewStrategy()
	if err != nil {
		return nil, err
	}
	promReg := prometheus.NewRegistry()
	metrics, err := hotreload.NewMetrics(promReg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	frameClock := hotreload.NewFrameClock(clk)
	store := hotreload.NewStore[any](
		hotreload.WithLogger(logger.Named("store")),
		hotreload.WithConcurrency(cfg.Concurrency),
	)
	registry, err := hotreload.NewRegistry(strategy, frameClock,
		hotreload.WithRegistryLogger(logger.Named("registry")),
		hotreload.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}
	registry.MustAttach(assetStore, store)

	reconciler, err := manifest.New(store, source.DefaultFormats(), logger.Named("manifest"))
	if err != nil {
		return nil, err
	}
	manifestSrc := manifestSource(cfg)
	assets, err := loadAssets(ctx, cfg, manifestSrc)
	if err != nil {
		return nil, err
	}
	if _, err := reconciler.Reconcile(ctx, assets); err != nil {
		return nil, err
	}

	return &app{
		cfg:         cfg,
		configSrc:   configSrc,
		manifestSrc: manifestSrc,
		logger:      logger,
		strategy:    strategy,
		clock:       frameClock,
		store:       store,
		registry:    registry,
		reconciler:  reconciler,
		metrics:     promReg,
	}, nil
}

func manifestSource(cfg *config.Config) *source.File[manifest.Manifest] {
	if cfg.Manifest == "" {
		return nil
	}
	return source.NewFile(cfg.Manifest, manifest.Format(filepath.Dir(cfg.Manifest)))
}

// loadAssets reads the manifest through src, so its stat is tracked, and
// merges it with the inline assets of cfg.
func loadAssets(ctx context.Context, cfg *config.Config, src *source.File[manifest.Manifest]) ([]manifest.AssetSpec, error) {
	var m manifest.Manifest
	if src != nil {
		var err error
		if m, err = src.Load(ctx); err != nil {
			return nil, fmt.Errorf("load manifest: %w", err)
		}
	}
	return cfg.MergeAssets(m)
}

// startWatcher triggers the strategy on changes to the config file, the
// manifest file and every asset file.
func (a *app) startWatcher(ctx context.Context) error {
	if a.strategy.Kind() != hotreload.KindTriggered {
		a.logger.Warn("watch enabled without triggered strategy; file events are ignored",
			zap.String("strategy", a.strategy.String()))
	}
	w, err := watch.New(a.strategy,
		watch.WithLogger(a.logger.Named("watch")),
		watch.WithDebounce(a.cfg.Debounce()),
	)
	if err != nil {
		return err
	}
	paths := []string{a.configSrc.Name()}
	if a.manifestSrc != nil {
		paths = append(paths, a.manifestSrc.Name())
	}
	for _, st := range a.store.Status() {
		if st.Live {
			paths = append(paths, st.Source)
		}
	}
	if err := w.Add(paths...); err != nil {
		_ = w.Stop()
		return err
	}
	w.Start(ctx)
	a.watcher = w
	return nil
}

// step advances one frame. On due frames the config and manifest files are
// checked too, and a changed asset list is reconciled into the store.
func (a *app) step(ctx context.Context) hotreload.FrameReport {
	a.clock.Advance()
	report := a.registry.Step(ctx)
	if report.Due {
		a.reloadConfig(ctx)
	}
	return report
}

func (a *app) reloadConfig(ctx context.Context) {
	next := a.pending
	if a.configSrc.NeedsReload() {
		cfg, err := a.configSrc.Load(ctx)
		if err != nil {
			a.logger.Warn("config reload failed, keeping previous config", zap.Error(err))
			return
		}
		next = cfg
	}
	manifestChanged := a.manifestSrc != nil && a.manifestSrc.NeedsReload()
	if next == nil {
		if !manifestChanged {
			return
		}
		next = a.cfg
	}

	manifestSrc := a.manifestSrc
	if manifestSrc == nil || next.Manifest != manifestSrc.Name() {
		manifestSrc = manifestSource(next)
	}
	// Until the reconcile succeeds the loaded config stays pending, so a fix
	// to a broken asset file is picked up without touching the config again.
	a.pending = next
	assets, err := loadAssets(ctx, next, manifestSrc)
	if err != nil {
		a.logger.Warn("manifest reload failed, keeping previous assets", zap.Error(err))
		return
	}
	result, err := a.reconciler.Reconcile(ctx, assets)
	if err != nil {
		a.logger.Warn("asset reconcile failed, keeping previous assets", zap.Error(err))
		return
	}
	a.pending = nil
	a.manifestSrc = manifestSrc

	if a.watcher != nil {
		var paths []string
		if len(result.Added) > 0 || len(result.Rebuilt) > 0 {
			for _, spec := range assets {
				paths = append(paths, spec.Path)
			}
		}
		if manifestSrc != nil {
			paths = append(paths, manifestSrc.Name())
		}
		if err := a.watcher.Add(paths...); err != nil {
			a.logger.Warn("watch assets", zap.Error(err))
		}
	}
	if next.Strategy != a.cfg.Strategy || next.FPS != a.cfg.FPS {
		a.logger.Info("strategy and fps changes take effect after restart")
	}
	a.cfg = next
}

// closeApp closes a and reports a close error on w.
func closeApp(w io.Writer, a *app) {
	if err := a.close(context.Background()); err != nil {
		fmt.Fprintf(w, "close assets: %v\n", err)
	}
}

func (a *app) close(ctx context.Context) error {
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn("stop watcher", zap.Error(err))
		}
	}
	err := a.store.Close(ctx)
	_ = a.logger.Sync()
	return err
}
