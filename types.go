package hotreload

import (
	"context"
	"math"
)

// Frame is the number of one discrete step of the application loop.
type Frame = uint64

// MaxFrame is the initial due frame of a strategy. No loop ever reaches it,
// so a freshly built strategy never reports a spurious first-frame reload.
const MaxFrame Frame = math.MaxUint64

// AssetKey is the unique identifier of a loaded asset.
// Kind identifies the asset type (for example, texture or config).
// Name identifies one asset within the same kind.
type AssetKey struct {
	Kind string `json:"kind" yaml:"kind"`
	Name string `json:"name" yaml:"name"`
}

func (k AssetKey) String() string {
	return k.Kind + "/" + k.Name
}

// Reloaded is the successful outcome of one reload attempt.
type Reloaded[T any] struct {
	Content T
	Format  string
}

// Source marks an asset as having a live, re-checkable backing source.
//
// A Source is a reusable template held by the store entry. It never loads
// content itself; every load goes through a fresh Attempt from NewAttempt.
//
// NeedsReload must be cheap: compare metadata cached from the previous load,
// never read or decode the content.
// Name and Format are diagnostic only and must not drive control flow.
type Source[T any] interface {
	NeedsReload() bool
	Name() string
	Format() string
	NewAttempt() Attempt[T]
}

// Attempt is a single-use load of a Source. Calling Reload a second time on
// the same Attempt returns ErrAttemptConsumed.
type Attempt[T any] interface {
	Reload(ctx context.Context) (Reloaded[T], error)
}

// AttemptFunc adapts a function into a single-use Attempt.
func AttemptFunc[T any](fn func(ctx context.Context) (Reloaded[T], error)) Attempt[T] {
	return &funcAttempt[T]{fn: fn}
}

type funcAttempt[T any] struct {
	fn   func(ctx context.Context) (Reloaded[T], error)
	used bool
}

func (a *funcAttempt[T]) Reload(ctx context.Context) (Reloaded[T], error) {
	if a.used {
		return Reloaded[T]{}, ErrAttemptConsumed
	}
	a.used = true
	return a.fn(ctx)
}
