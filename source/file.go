package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/chenyanchen/hotreload"
)

type stamp struct {
	modTime time.Time
	size    int64
}

// fileState is shared by a File and every attempt it hands out: a
// successful attempt records what it loaded so the next NeedsReload on the
// template compares against it.
type fileState struct {
	mu     sync.Mutex
	loaded bool
	gone   bool
	last   stamp
}

func (s *fileState) record(st stamp) {
	s.mu.Lock()
	s.loaded = true
	s.gone = false
	s.last = st
	s.mu.Unlock()
}

func (s *fileState) markGone() {
	s.mu.Lock()
	s.gone = true
	s.mu.Unlock()
}

// File is a hot reload source backed by one file on disk.
type File[T any] struct {
	path   string
	format Format[T]
	state  *fileState
}

var _ hotreload.Source[any] = (*File[any])(nil)

// NewFile returns a source reading path with format. The file is not
// touched until the first NeedsReload or Load.
func NewFile[T any](path string, format Format[T]) *File[T] {
	return &File[T]{path: path, format: format, state: &fileState{}}
}

func (f *File[T]) Name() string   { return f.path }
func (f *File[T]) Format() string { return f.format.Name }

// NeedsReload stats the file and reports whether its modification time or
// size differ from the last successful load. A never loaded file needs a
// reload. A file that went missing needs one reload, which reports
// SourceGoneError; after that it is quiet until the file comes back.
func (f *File[T]) NeedsReload() bool {
	info, err := os.Stat(f.path)
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return !f.state.gone
		}
		return true
	}
	if !f.state.loaded || f.state.gone {
		return true
	}
	return !info.ModTime().Equal(f.state.last.modTime) || info.Size() != f.state.last.size
}

// NewAttempt returns a single-use load of the file.
func (f *File[T]) NewAttempt() hotreload.Attempt[T] {
	return &fileAttempt[T]{file: f}
}

// Load performs a load outside the reload pass, typically the initial one.
func (f *File[T]) Load(ctx context.Context) (T, error) {
	out, err := f.NewAttempt().Reload(ctx)
	return out.Content, err
}

type fileAttempt[T any] struct {
	file *File[T]
	used bool
}

func (a *fileAttempt[T]) Reload(ctx context.Context) (hotreload.Reloaded[T], error) {
	var zero hotreload.Reloaded[T]
	if a.used {
		return zero, hotreload.ErrAttemptConsumed
	}
	a.used = true
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
	}

	f := a.file
	info, err := os.Stat(f.path)
	if err != nil {
		return zero, f.readError(err)
	}
	if info.IsDir() {
		return zero, hotreload.LoadError{Path: f.path, Err: fmt.Errorf("is a directory")}
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return zero, f.readError(err)
	}
	content, err := f.format.Decode(data)
	if err != nil {
		return zero, hotreload.FormatError{Format: f.format.Name, Path: f.path, Err: err}
	}
	f.state.record(stamp{modTime: info.ModTime(), size: info.Size()})
	return hotreload.Reloaded[T]{Content: content, Format: f.format.Name}, nil
}

func (f *File[T]) readError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		f.state.markGone()
		return hotreload.SourceGoneError{Path: f.path}
	}
	return hotreload.LoadError{Path: f.path, Err: err}
}

// Open loads path once and inserts it into store as a live asset.
func Open[T any](ctx context.Context, store *hotreload.Store[T], key hotreload.AssetKey, path string, format Format[T]) error {
	file := NewFile(path, format)
	content, err := file.Load(ctx)
	if err != nil {
		return fmt.Errorf("open asset %s: %w", key.String(), err)
	}
	return store.Insert(key, content, file)
}
