package hotreload

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Kind names the active variant of a Strategy.
type Kind uint8

const (
	KindDisabled Kind = iota
	KindPeriodic
	KindTriggered
)

func (k Kind) String() string {
	switch k {
	case KindPeriodic:
		return "periodic"
	case KindTriggered:
		return "triggered"
	default:
		return "disabled"
	}
}

// Strategy decides on which frame a reload pass runs.
//
// Exactly one variant is active:
//   - periodic: fires every interval of elapsed wall time, independent of frame rate
//   - triggered: fires once, on the first tick after Trigger
//   - disabled: never fires
//
// A fire latches the due frame to the tick's frame + 1. IsDue compares for
// equality, so the signal is a single-frame pulse rather than a level.
//
// Tick and IsDue are meant to run on the frame goroutine; Trigger may be
// called from any goroutine.
type Strategy struct {
	kind Kind

	mu       sync.RWMutex
	interval uint8
	lastFire time.Duration
	pending  bool
	due      Frame
}

// Periodic returns a strategy that fires every intervalSeconds of elapsed
// wall time. The interval is counted in whole seconds; sub-second elapsed
// time is truncated.
func Periodic(intervalSeconds uint8) *Strategy {
	return &Strategy{
		kind:     KindPeriodic,
		interval: intervalSeconds,
		due:      MaxFrame,
	}
}

// Triggered returns a strategy that fires only after Trigger is called.
func Triggered() *Strategy {
	return &Strategy{
		kind: KindTriggered,
		due:  MaxFrame,
	}
}

// Disabled returns a strategy that never fires.
func Disabled() *Strategy {
	return &Strategy{kind: KindDisabled, due: MaxFrame}
}

// DefaultStrategy reloads changed assets every second.
func DefaultStrategy() *Strategy {
	return Periodic(1)
}

// ParseStrategy builds a strategy from its textual mode.
// interval is only used by the periodic mode.
func ParseStrategy(mode string, interval uint8) (*Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "periodic", "every":
		return Periodic(interval), nil
	case "triggered", "trigger":
		return Triggered(), nil
	case "disabled", "never", "":
		return Disabled(), nil
	default:
		return nil, fmt.Errorf("parse strategy: unknown mode %q", mode)
	}
}

// Kind returns the active variant.
func (s *Strategy) Kind() Kind {
	return s.kind
}

func (s *Strategy) String() string {
	if s.kind == KindPeriodic {
		return fmt.Sprintf("periodic(%ds)", s.interval)
	}
	return s.kind.String()
}

// Trigger requests a reload on the frame after the next tick.
// It does nothing unless the strategy was built with Triggered.
// Calls between two ticks coalesce into one fire.
func (s *Strategy) Trigger() {
	if s.kind != KindTriggered {
		return
	}
	s.mu.Lock()
	s.pending = true
	s.mu.Unlock()
}

// Pending reports whether a trigger is waiting for the next tick.
func (s *Strategy) Pending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

// IsDue reports whether frame is the reload frame.
func (s *Strategy) IsDue(frame Frame) bool {
	if s.kind == KindDisabled {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.due == frame
}

// DueFrame returns the latched due frame, MaxFrame if the strategy never fired.
func (s *Strategy) DueFrame() Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.due
}

// Tick advances the strategy by one frame. elapsed is the wall time since
// the strategy's clock started. It must run once per frame, before any IsDue
// call for that frame.
func (s *Strategy) Tick(frame Frame, elapsed time.Duration) {
	switch s.kind {
	case KindPeriodic:
		s.mu.Lock()
		defer s.mu.Unlock()
		since := elapsed - s.lastFire
		if since < 0 {
			since = 0
		}
		if uint64(since/time.Second) >= uint64(s.interval) {
			s.due = frame + 1
			s.lastFire = elapsed
		}
	case KindTriggered:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pending {
			s.due = frame + 1
		}
		s.pending = false
	}
}
