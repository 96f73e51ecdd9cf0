package hotreload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type entry[T any] struct {
	key     AssetKey
	content T
	source  Source[T]
	format  string

	// sourceVersion changes whenever the source is replaced, so a reload
	// started against an old source never overwrites newer content.
	sourceVersion uint64
	generation    uint64
	lastReload    Frame
	lastErr       error
}

// PassResult describes what one reload pass did to a store.
type PassResult struct {
	Frame     Frame
	Due       bool
	Reloaded  []AssetKey // Source changed and new content was swapped in.
	Unchanged []AssetKey // Source reported no change.
	Failed    []AssetKey // Reload failed; previous content kept.
	Skipped   []AssetKey // Another reload of the asset was still in flight.
	Err       error      // errors.Join of every per-asset *ReloadError.
}

// Touched reports whether the pass swapped in or failed any asset.
func (r PassResult) Touched() bool {
	return len(r.Reloaded) > 0 || len(r.Failed) > 0
}

type reloadStatus uint8

const (
	statusUnchanged reloadStatus = iota
	statusReloaded
	statusFailed
	statusSkipped
)

type reloadTarget[T any] struct {
	key     AssetKey
	source  Source[T]
	version uint64
}

type storeOptions struct {
	logger      *zap.Logger
	concurrency int
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

// WithLogger sets the logger used for reload diagnostics.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConcurrency runs up to n reload attempts of one pass in parallel.
// The pass itself still returns only after every attempt finished.
func WithConcurrency(n int) StoreOption {
	return func(o *storeOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// Store owns the content of loaded assets of one type and swaps in fresh
// content when their sources change.
// It provides:
// 1) keyed content lookup in insertion order
// 2) a per-frame reload pass governed by a Strategy
// 3) forced single-asset reloads, deduplicated per key
type Store[T any] struct {
	logger      *zap.Logger
	concurrency int

	mu       sync.RWMutex
	entries  map[AssetKey]*entry[T]
	order    []AssetKey
	versions uint64

	lastFrame atomic.Uint64
	inFlight  mapset.Set[AssetKey]
	sf        singleflight.Group
}

func NewStore[T any](opts ...StoreOption) *Store[T] {
	o := storeOptions{logger: zap.NewNop(), concurrency: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[T]{
		logger:      o.logger,
		concurrency: o.concurrency,
		entries:     make(map[AssetKey]*entry[T]),
		inFlight:    mapset.NewSet[AssetKey](),
	}
}

// Insert adds a new asset. src may be nil for inline content, which is then
// never considered by the reload pass.
func (s *Store[T]) Insert(key AssetKey, content T, src Source[T]) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; exists {
		return DuplicateAssetError{Key: key}
	}
	s.versions++
	s.entries[key] = &entry[T]{
		key:           key,
		content:       content,
		source:        src,
		format:        formatOf(src),
		sourceVersion: s.versions,
	}
	s.order = append(s.order, key)
	return nil
}

// Put inserts or replaces an asset together with its source. Replaced
// content is closed if it implements io.Closer.
func (s *Store[T]) Put(key AssetKey, content T, src Source[T]) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("put asset: %w", err)
	}
	s.mu.Lock()
	s.versions++
	e, exists := s.entries[key]
	if !exists {
		s.entries[key] = &entry[T]{
			key:           key,
			content:       content,
			source:        src,
			format:        formatOf(src),
			sourceVersion: s.versions,
		}
		s.order = append(s.order, key)
		s.mu.Unlock()
		return nil
	}
	old := e.content
	e.content = content
	e.source = src
	e.format = formatOf(src)
	e.sourceVersion = s.versions
	e.generation++
	e.lastErr = nil
	s.mu.Unlock()

	s.closeReplaced(key, old, content)
	return nil
}

// SetSource replaces the reload source of an existing asset, keeping its content.
func (s *Store[T]) SetSource(key AssetKey, src Source[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return AssetNotFoundError{Key: key}
	}
	s.versions++
	e.source = src
	e.sourceVersion = s.versions
	if src != nil {
		e.format = src.Format()
	}
	return nil
}

// Get returns the current content of an asset.
func (s *Store[T]) Get(key AssetKey) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	return e.content, true
}

// MustGet is Get for bootstrap code paths; it panics on a missing key.
func (s *Store[T]) MustGet(key AssetKey) T {
	v, ok := s.Get(key)
	if !ok {
		panic(AssetNotFoundError{Key: key})
	}
	return v
}

// Remove deletes an asset and returns its last content. The content is not closed.
func (s *Store[T]) Remove(key AssetKey) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	delete(s.entries, key)
	for i := range s.order {
		if s.order[i] == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return e.content, true
}

// Keys returns a snapshot of asset keys in insertion order.
func (s *Store[T]) Keys() []AssetKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AssetKey(nil), s.order...)
}

func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// LastError returns the error of the most recent failed reload of key, nil
// if the last reload succeeded or none happened.
func (s *Store[T]) LastError(key AssetKey) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[key]; ok {
		return e.lastErr
	}
	return nil
}

// Generation counts how many times the content of key was swapped.
func (s *Store[T]) Generation(key AssetKey) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[key]; ok {
		return e.generation
	}
	return 0
}

// ReloadPass runs the reload pass for frame. It does nothing unless the
// strategy is due on that frame. Every asset with a source is asked whether
// it changed; changed assets are reloaded and swapped in. A failed reload
// keeps the previous content and never stops the pass.
func (s *Store[T]) ReloadPass(ctx context.Context, strategy *Strategy, frame Frame) PassResult {
	result := PassResult{Frame: frame}
	if strategy == nil || !strategy.IsDue(frame) {
		return result
	}
	result.Due = true
	s.lastFrame.Store(frame)

	targets := s.reloadTargets()
	statuses := make([]reloadStatus, len(targets))
	errs := make([]error, len(targets))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, target := range targets {
		g.Go(func() error {
			statuses[i], errs[i] = s.reloadOne(ctx, target, frame, false)
			return nil
		})
	}
	_ = g.Wait()

	var failures []error
	for i, target := range targets {
		switch statuses[i] {
		case statusReloaded:
			result.Reloaded = append(result.Reloaded, target.key)
		case statusUnchanged:
			result.Unchanged = append(result.Unchanged, target.key)
		case statusFailed:
			result.Failed = append(result.Failed, target.key)
			failures = append(failures, errs[i])
		case statusSkipped:
			result.Skipped = append(result.Skipped, target.key)
		}
	}
	result.Err = errors.Join(failures...)
	return result
}

// Reload forces a reload of key without asking its source whether it
// changed. Concurrent calls for the same key share one attempt.
func (s *Store[T]) Reload(ctx context.Context, key AssetKey) (T, error) {
	v, err, _ := s.sf.Do(flightKey(key), func() (any, error) {
		target, err := s.target(key)
		if err != nil {
			return nil, err
		}
		status, err := s.reloadOne(ctx, target, s.lastFrame.Load(), true)
		switch status {
		case statusSkipped:
			return nil, ErrReloadInFlight
		case statusFailed:
			return nil, err
		}
		content, _ := s.Get(key)
		return content, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	content, _ := v.(T)
	return content, nil
}

func (s *Store[T]) reloadTargets() []reloadTarget[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	targets := make([]reloadTarget[T], 0, len(s.order))
	for _, key := range s.order {
		e := s.entries[key]
		if e.source == nil {
			continue
		}
		targets = append(targets, reloadTarget[T]{key: key, source: e.source, version: e.sourceVersion})
	}
	return targets
}

func (s *Store[T]) target(key AssetKey) (reloadTarget[T], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return reloadTarget[T]{}, AssetNotFoundError{Key: key}
	}
	if e.source == nil {
		return reloadTarget[T]{}, fmt.Errorf("reload asset %s: %w", key.String(), ErrNoSource)
	}
	return reloadTarget[T]{key: key, source: e.source, version: e.sourceVersion}, nil
}

func (s *Store[T]) reloadOne(ctx context.Context, target reloadTarget[T], frame Frame, force bool) (reloadStatus, error) {
	if !s.inFlight.Add(target.key) {
		return statusSkipped, nil
	}
	defer s.inFlight.Remove(target.key)

	if !force && !target.source.NeedsReload() {
		return statusUnchanged, nil
	}

	reloaded, err := target.source.NewAttempt().Reload(ctx)
	if err != nil {
		rerr := &ReloadError{
			Key:    target.key,
			Name:   target.source.Name(),
			Format: target.source.Format(),
			Err:    err,
		}
		s.mu.Lock()
		if e, ok := s.entries[target.key]; ok && e.sourceVersion == target.version {
			e.lastErr = rerr
		}
		s.mu.Unlock()
		s.logger.Warn("asset reload failed",
			zap.String("asset", target.key.String()),
			zap.String("name", rerr.Name),
			zap.String("format", rerr.Format),
			zap.Uint64("frame", frame),
			zap.Error(err))
		return statusFailed, rerr
	}

	s.mu.Lock()
	e, ok := s.entries[target.key]
	if !ok || e.sourceVersion != target.version {
		// Removed or re-sourced while loading: the result is stale.
		var current T
		if ok {
			current = e.content
		}
		s.mu.Unlock()
		s.closeReplaced(target.key, reloaded.Content, current)
		return statusSkipped, nil
	}
	old := e.content
	e.content = reloaded.Content
	if reloaded.Format != "" {
		e.format = reloaded.Format
	}
	e.generation++
	e.lastReload = frame
	e.lastErr = nil
	generation := e.generation
	s.mu.Unlock()

	s.closeReplaced(target.key, old, reloaded.Content)
	s.logger.Debug("asset reloaded",
		zap.String("asset", target.key.String()),
		zap.String("format", reloaded.Format),
		zap.Uint64("frame", frame),
		zap.Uint64("generation", generation))
	return statusReloaded, nil
}

// closeReplaced closes old if it is an io.Closer and not the same value as next.
func (s *Store[T]) closeReplaced(key AssetKey, old, next T) {
	closer, ok := asCloser(old)
	if !ok {
		return
	}
	if t := reflect.TypeOf(old); t != nil && t.Comparable() && any(old) == any(next) {
		return
	}
	if err := closer.Close(); err != nil {
		s.logger.Warn("close replaced asset content",
			zap.String("asset", key.String()),
			zap.Error(err))
	}
}

// Close closes every io.Closer content in reverse insertion order.
func (s *Store[T]) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.RLock()
	contents := make([]T, 0, len(s.order))
	keys := make([]AssetKey, 0, len(s.order))
	for _, key := range s.order {
		contents = append(contents, s.entries[key].content)
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	var errs []error
	for i := len(contents) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		closer, ok := asCloser(contents[i])
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close asset %s: %w", keys[i].String(), err))
		}
	}
	return errors.Join(errs...)
}

func asCloser(v any) (io.Closer, bool) {
	closer, ok := v.(io.Closer)
	if !ok {
		return nil, false
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, false
	}
	return closer, true
}

// flightKey joins kind and name with NUL, which validateKey rejects in both.
// AssetKey.String is ambiguous when a field holds a slash.
func flightKey(key AssetKey) string {
	return key.Kind + "\x00" + key.Name
}

func formatOf[T any](src Source[T]) string {
	if src == nil {
		return ""
	}
	return src.Format()
}

func validateKey(key AssetKey) error {
	if key.Kind == "" {
		return fmt.Errorf("key.kind is empty")
	}
	if key.Name == "" {
		return fmt.Errorf("key.name is empty")
	}
	if strings.ContainsRune(key.Kind, 0) || strings.ContainsRune(key.Name, 0) {
		return fmt.Errorf("key %q contains a NUL byte", key.String())
	}
	return nil
}
