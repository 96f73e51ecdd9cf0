package hotreload

import (
	"errors"
	"fmt"
)

var (
	// ErrAttemptConsumed means Reload was called twice on the same Attempt.
	ErrAttemptConsumed = errors.New("reload attempt already consumed")
	// ErrReloadInFlight means another reload of the same asset has not finished yet.
	ErrReloadInFlight = errors.New("reload already in flight")
	// ErrNoSource means the asset was inserted with inline content and cannot be reloaded.
	ErrNoSource = errors.New("asset has no reload source")
)

// LoadError means the backing source could not be read.
type LoadError struct {
	Path string
	Err  error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e LoadError) Unwrap() error { return e.Err }

// FormatError means the backing source was read but could not be decoded.
type FormatError struct {
	Format string
	Path   string
	Err    error
}

func (e FormatError) Error() string {
	return fmt.Sprintf("decode %s as %s: %v", e.Path, e.Format, e.Err)
}

func (e FormatError) Unwrap() error { return e.Err }

// SourceGoneError means the watched source disappeared between the
// change check and the reload.
type SourceGoneError struct {
	Path string
}

func (e SourceGoneError) Error() string {
	return fmt.Sprintf("source gone: %s", e.Path)
}

// ReloadError tags a reload failure with the identity of the asset.
type ReloadError struct {
	Key    AssetKey
	Name   string
	Format string
	Err    error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("reload asset %s (name=%q format=%q): %v", e.Key.String(), e.Name, e.Format, e.Err)
}

func (e *ReloadError) Unwrap() error { return e.Err }

// DuplicateAssetError means the same key was inserted twice.
type DuplicateAssetError struct {
	Key AssetKey
}

func (e DuplicateAssetError) Error() string {
	return fmt.Sprintf("duplicate asset: %s", e.Key.String())
}

// AssetNotFoundError means the key is not present in the store.
type AssetNotFoundError struct {
	Key AssetKey
}

func (e AssetNotFoundError) Error() string {
	return fmt.Sprintf("asset not found: %s", e.Key.String())
}
