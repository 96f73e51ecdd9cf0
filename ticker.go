package hotreload

import (
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
)

// Clock supplies the current frame number and the wall time elapsed since
// the loop started. The ticker only reads it.
type Clock interface {
	Frame() Frame
	Elapsed() time.Duration
}

// FrameClock counts frames and measures elapsed time with a clock.Clock.
type FrameClock struct {
	clk   clock.Clock
	start time.Time
	frame atomic.Uint64
}

// NewFrameClock starts a frame clock at frame 0. A nil clk uses the real clock.
func NewFrameClock(clk clock.Clock) *FrameClock {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &FrameClock{clk: clk, start: clk.Now()}
}

// Advance moves to the next frame and returns it.
func (c *FrameClock) Advance() Frame {
	return c.frame.Add(1)
}

// Frame returns the current frame.
func (c *FrameClock) Frame() Frame {
	return c.frame.Load()
}

// Elapsed returns the wall time since the clock was created.
func (c *FrameClock) Elapsed() time.Duration {
	return c.clk.Since(c.start)
}

// StrategyTicker steps a Strategy once per frame from a Clock.
type StrategyTicker struct {
	strategy *Strategy
	clock    Clock
}

func NewStrategyTicker(strategy *Strategy, clk Clock) *StrategyTicker {
	return &StrategyTicker{strategy: strategy, clock: clk}
}

// Tick reads the clock once and advances the strategy. It returns the frame
// it ticked.
func (t *StrategyTicker) Tick() Frame {
	frame := t.clock.Frame()
	t.strategy.Tick(frame, t.clock.Elapsed())
	return frame
}
