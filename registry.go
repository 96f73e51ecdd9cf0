package hotreload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reloader is a store that takes part in the per-frame reload pass.
// *Store[T] implements it for every T.
type Reloader interface {
	ReloadPass(ctx context.Context, strategy *Strategy, frame Frame) PassResult
	Status() []AssetStatus
}

// StorePass is the reload pass result of one attached store.
type StorePass struct {
	Store string
	PassResult
}

// FrameReport describes one Step.
type FrameReport struct {
	Frame  Frame
	Due    bool
	Passes []StorePass
	Err    error // errors.Join of every store's pass error.
}

// Reloaded returns the number of assets swapped in during the frame.
func (r FrameReport) Reloaded() int {
	n := 0
	for _, p := range r.Passes {
		n += len(p.PassResult.Reloaded)
	}
	return n
}

type registryOptions struct {
	logger  *zap.Logger
	metrics *Metrics
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

// WithRegistryLogger sets the logger for frame-level diagnostics.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(o *registryOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records every pass into m.
func WithMetrics(m *Metrics) RegistryOption {
	return func(o *registryOptions) {
		o.metrics = m
	}
}

// Registry owns the reload strategy and coordinates the reload pass of every
// attached store once per frame.
//
// Step semantics:
// 1. tick the strategy from the clock
// 2. query the strategy once for the current frame
// 3. if due, run the reload pass of every store in attach order
type Registry struct {
	strategy *Strategy
	clock    Clock
	ticker   *StrategyTicker
	logger   *zap.Logger
	metrics  *Metrics

	// step serializes Step so the tick always completes before any store
	// reads the strategy for that frame.
	step sync.Mutex

	mu     sync.RWMutex
	names  []string
	stores map[string]Reloader
}

func NewRegistry(strategy *Strategy, clk Clock, opts ...RegistryOption) (*Registry, error) {
	if clk == nil {
		return nil, fmt.Errorf("new registry: clock is nil")
	}
	if strategy == nil {
		strategy = DefaultStrategy()
	}
	o := registryOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{
		strategy: strategy,
		clock:    clk,
		ticker:   NewStrategyTicker(strategy, clk),
		logger:   o.logger,
		metrics:  o.metrics,
		stores:   make(map[string]Reloader),
	}, nil
}

// Strategy returns the strategy driving the registry.
func (r *Registry) Strategy() *Strategy {
	return r.strategy
}

// Attach adds a store under a unique name.
func (r *Registry) Attach(name string, store Reloader) error {
	if name == "" {
		return fmt.Errorf("attach store: name is empty")
	}
	if store == nil {
		return fmt.Errorf("attach store %q: store is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stores[name]; exists {
		return fmt.Errorf("attach store: duplicate store %q", name)
	}
	r.stores[name] = store
	r.names = append(r.names, name)
	return nil
}

// MustAttach panics on attach error; intended for bootstrap code paths.
func (r *Registry) MustAttach(name string, store Reloader) {
	if err := r.Attach(name, store); err != nil {
		panic(err)
	}
}

// Step runs one frame: tick the strategy, then, only on a due frame, run the
// reload pass of every attached store. A failing store never stops the others.
func (r *Registry) Step(ctx context.Context) FrameReport {
	r.step.Lock()
	defer r.step.Unlock()

	frame := r.ticker.Tick()
	report := FrameReport{Frame: frame, Due: r.strategy.IsDue(frame)}
	if !report.Due {
		return report
	}

	start := time.Now()
	var errs []error
	for _, name := range r.storeNames() {
		store := r.store(name)
		if store == nil {
			continue
		}
		res := store.ReloadPass(ctx, r.strategy, frame)
		r.metrics.observePass(name, res)
		report.Passes = append(report.Passes, StorePass{Store: name, PassResult: res})
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("store %s: %w", name, res.Err))
		}
	}
	r.metrics.observeFrame(time.Since(start))
	report.Err = errors.Join(errs...)

	r.logger.Info("reload pass",
		zap.Uint64("frame", frame),
		zap.String("strategy", r.strategy.String()),
		zap.Int("reloaded", report.Reloaded()),
		zap.Int("stores", len(report.Passes)),
		zap.NamedError("failures", report.Err))
	return report
}

// Status returns a snapshot of every attached store.
func (r *Registry) Status() Status {
	st := Status{
		Frame:    r.clock.Frame(),
		Strategy: r.strategy.String(),
		DueFrame: r.strategy.DueFrame(),
	}
	for _, name := range r.storeNames() {
		store := r.store(name)
		if store == nil {
			continue
		}
		for _, a := range store.Status() {
			a.Store = name
			st.Assets = append(st.Assets, a)
		}
	}
	return st
}

func (r *Registry) storeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

func (r *Registry) store(name string) Reloader {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stores[name]
}
