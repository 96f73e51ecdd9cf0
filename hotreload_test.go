package hotreload

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeSource is an in-memory Source. Set changed to make NeedsReload report a
// change; the next attempt returns content (or err) and clears it.
type fakeSource struct {
	name    string
	changed atomic.Bool
	delay   time.Duration

	mu      sync.Mutex
	content string
	err     error
	hook    func()

	checks   atomic.Int32
	attempts atomic.Int32
}

func newFakeSource(name, content string) *fakeSource {
	return &fakeSource{name: name, content: content}
}

func (s *fakeSource) set(content string, err error) {
	s.mu.Lock()
	s.content, s.err = content, err
	s.mu.Unlock()
	s.changed.Store(true)
}

func (s *fakeSource) NeedsReload() bool {
	s.checks.Add(1)
	return s.changed.Load()
}

func (s *fakeSource) Name() string   { return s.name }
func (s *fakeSource) Format() string { return "fake" }

func (s *fakeSource) NewAttempt() Attempt[string] {
	return AttemptFunc(func(ctx context.Context) (Reloaded[string], error) {
		s.attempts.Add(1)
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		s.mu.Lock()
		content, err, hook := s.content, s.err, s.hook
		s.mu.Unlock()
		if hook != nil {
			hook()
		}
		if err != nil {
			return Reloaded[string]{}, err
		}
		s.changed.Store(false)
		return Reloaded[string]{Content: content, Format: "fake"}, nil
	})
}

// manualClock is a Clock whose frame and elapsed time are set by the test.
type manualClock struct {
	frame   Frame
	elapsed time.Duration
}

func (c *manualClock) Frame() Frame           { return c.frame }
func (c *manualClock) Elapsed() time.Duration { return c.elapsed }

func (c *manualClock) set(frame Frame, elapsed time.Duration) {
	c.frame, c.elapsed = frame, elapsed
}

// dueStrategy returns a triggered strategy that is due on frame.
func dueStrategy(frame Frame) *Strategy {
	s := Triggered()
	s.Trigger()
	s.Tick(frame-1, 0)
	return s
}

// trackedCloser records Close calls into a shared log.
type trackedCloser struct {
	name string
	log  *[]string
	mu   *sync.Mutex
}

func (c *trackedCloser) Close() error {
	c.mu.Lock()
	*c.log = append(*c.log, c.name)
	c.mu.Unlock()
	return nil
}
