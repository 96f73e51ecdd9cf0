// Package watch turns filesystem events into reload triggers.
//
// A Watcher observes files with fsnotify and, once a burst of events has
// settled, calls Trigger on a hotreload.Strategy. It is only useful with a
// strategy built by hotreload.Triggered; Trigger is a no-op on the others.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/chenyanchen/hotreload"
)

// DefaultDebounce is how long events must be quiet before a trigger fires.
const DefaultDebounce = 100 * time.Millisecond

type options struct {
	logger    *zap.Logger
	debounce  time.Duration
	clock     clock.Clock
	onTrigger func(paths []string)
}

// Option configures a Watcher.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithClock replaces the clock used for debouncing.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		if clk != nil {
			o.clock = clk
		}
	}
}

// WithOnTrigger is called with the changed paths after every trigger.
func WithOnTrigger(fn func(paths []string)) Option {
	return func(o *options) {
		o.onTrigger = fn
	}
}

// Watcher triggers a strategy when watched files change.
// Files are watched through their parent directory so editors that save by
// rename are still seen.
type Watcher struct {
	strategy *hotreload.Strategy
	watcher  *fsnotify.Watcher
	opts     options

	mu       sync.Mutex
	files    map[string]struct{}
	dirs     map[string]bool // true: every file inside is watched
	changed  map[string]struct{}
	lastSeen time.Time
	running  bool
	stopped  bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	triggers atomic.Uint64
}

func New(strategy *hotreload.Strategy, opts ...Option) (*Watcher, error) {
	if strategy == nil {
		return nil, fmt.Errorf("new watcher: strategy is nil")
	}
	o := options{
		logger:   zap.NewNop(),
		debounce: DefaultDebounce,
		clock:    clock.NewClock(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new watcher: %w", err)
	}
	return &Watcher{
		strategy: strategy,
		watcher:  fw,
		opts:     o,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]bool),
		changed:  make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Add watches files or directories. A directory path watches every file
// directly inside it.
func (w *Watcher) Add(paths ...string) error {
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		dir, all := filepath.Dir(abs), false
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			dir, all = abs, true
		}

		w.mu.Lock()
		_, seen := w.dirs[dir]
		if all {
			w.dirs[dir] = true
		} else {
			w.files[abs] = struct{}{}
			if !seen {
				w.dirs[dir] = false
			}
		}
		w.mu.Unlock()

		if seen {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.opts.logger.Debug("watching directory", zap.String("dir", dir))
	}
	return nil
}

// Triggers returns how many times the watcher triggered the strategy.
func (w *Watcher) Triggers() uint64 {
	return w.triggers.Load()
}

// Start begins watching in a goroutine. It is non-blocking. A stopped
// watcher cannot be restarted; Start then does nothing.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running || w.stopped {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop stops the watcher, waits for its goroutine and releases fsnotify.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.stopped = true
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	period := w.opts.debounce / 2
	if period < time.Millisecond {
		period = time.Millisecond
	}
	ticker := w.opts.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.opts.logger.Warn("watch error", zap.Error(err))
		case <-ticker.C():
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	name := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	_, isFile := w.files[name]
	if !isFile && !w.dirs[filepath.Dir(name)] {
		return
	}
	w.changed[name] = struct{}{}
	w.lastSeen = w.opts.clock.Now()
	w.opts.logger.Debug("watched file changed",
		zap.String("path", name),
		zap.String("op", event.Op.String()))
}

// flush triggers the strategy once events have been quiet for the debounce window.
func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.changed) == 0 || w.opts.clock.Since(w.lastSeen) < w.opts.debounce {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.changed))
	for p := range w.changed {
		paths = append(paths, p)
	}
	w.changed = make(map[string]struct{})
	w.mu.Unlock()

	sort.Strings(paths)
	w.strategy.Trigger()
	w.triggers.Add(1)
	w.opts.logger.Info("reload triggered", zap.Strings("paths", paths))
	if w.opts.onTrigger != nil {
		w.opts.onTrigger(paths)
	}
}
