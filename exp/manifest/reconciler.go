package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chenyanchen/hotreload"
	"github.com/chenyanchen/hotreload/source"
)

// Result describes the asset changes of one reconciliation.
type Result struct {
	Added   []hotreload.AssetKey // Declared only in new specs.
	Removed []hotreload.AssetKey // Declared only in old specs.
	Reused  []hotreload.AssetKey // Declaration unchanged; content untouched.
	Rebuilt []hotreload.AssetKey // Added or changed; freshly loaded.
}

type prepared struct {
	key     hotreload.AssetKey
	content any
	file    *source.File[any]
}

// Reconciler keeps a store in line with a list of asset declarations.
//
// Semantics:
// 1. hash new specs and diff them against the applied snapshot
// 2. load every added or changed asset before touching the store
// 3. on any load failure, return the error with store and snapshot untouched
// 4. put rebuilt assets, remove undeclared ones
type Reconciler struct {
	store   *hotreload.Store[any]
	formats *source.Formats
	logger  *zap.Logger

	mu       sync.Mutex
	snapshot map[hotreload.AssetKey]string
	order    []hotreload.AssetKey
}

func New(store *hotreload.Store[any], formats *source.Formats, logger *zap.Logger) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("new reconciler: store is nil")
	}
	if formats == nil {
		formats = source.DefaultFormats()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:    store,
		formats:  formats,
		logger:   logger,
		snapshot: make(map[hotreload.AssetKey]string),
	}, nil
}

// Reconcile switches the store to specs.
func (r *Reconciler) Reconcile(ctx context.Context, specs []AssetSpec) (Result, error) {
	if err := Validate(specs); err != nil {
		return Result{}, fmt.Errorf("reconcile: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[hotreload.AssetKey]string, len(specs))
	nextOrder := make([]hotreload.AssetKey, 0, len(specs))
	var result Result
	var rebuild []AssetSpec
	for _, spec := range specs {
		key := spec.Key()
		hash := hashSpec(spec)
		next[key] = hash
		nextOrder = append(nextOrder, key)

		old, existed := r.snapshot[key]
		switch {
		case !existed:
			result.Added = append(result.Added, key)
			result.Rebuilt = append(result.Rebuilt, key)
			rebuild = append(rebuild, spec)
		case old != hash:
			result.Rebuilt = append(result.Rebuilt, key)
			rebuild = append(rebuild, spec)
		default:
			result.Reused = append(result.Reused, key)
		}
	}
	for _, key := range r.order {
		if _, ok := next[key]; !ok {
			result.Removed = append(result.Removed, key)
		}
	}

	loaded := make([]prepared, 0, len(rebuild))
	for _, spec := range rebuild {
		p, err := r.prepare(ctx, spec)
		if err != nil {
			closeAll(loaded)
			return Result{}, fmt.Errorf("prewarm asset %s: %w", spec.Key().String(), err)
		}
		loaded = append(loaded, p)
	}

	for _, p := range loaded {
		if err := r.store.Put(p.key, p.content, p.file); err != nil {
			return result, fmt.Errorf("put asset %s: %w", p.key.String(), err)
		}
	}
	for _, key := range result.Removed {
		content, ok := r.store.Remove(key)
		if !ok {
			continue
		}
		if closer, ok := content.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				r.logger.Warn("close removed asset", zap.String("asset", key.String()), zap.Error(err))
			}
		}
	}

	r.snapshot = next
	r.order = nextOrder
	r.logger.Info("manifest reconciled",
		zap.Int("added", len(result.Added)),
		zap.Int("removed", len(result.Removed)),
		zap.Int("rebuilt", len(result.Rebuilt)),
		zap.Int("reused", len(result.Reused)))
	return result, nil
}

func (r *Reconciler) prepare(ctx context.Context, spec AssetSpec) (prepared, error) {
	format, err := r.formats.Resolve(spec.Format, spec.Path)
	if err != nil {
		return prepared{}, err
	}
	file := source.NewFile(spec.Path, format)
	content, err := file.Load(ctx)
	if err != nil {
		return prepared{}, err
	}
	return prepared{key: spec.Key(), content: content, file: file}, nil
}

func closeAll(loaded []prepared) {
	for _, p := range loaded {
		if closer, ok := p.content.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}

func hashSpec(spec AssetSpec) string {
	var b strings.Builder
	b.WriteString(spec.Kind)
	b.WriteByte('\n')
	b.WriteString(spec.Name)
	b.WriteByte('\n')
	b.WriteString(spec.Path)
	b.WriteByte('\n')
	b.WriteString(strings.ToLower(spec.Format))
	b.WriteByte('\n')

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
