// Package timer provides named, idempotent debounce and hold timers.
//
// Timers never run engine code directly. On expiry the service hands an
// Expiry to the fire callback, which posts it to the engine's event loop;
// the loop then calls Expire to check the expiry is still current.
package timer

import (
	"sync"
	"time"
)

// Name identifies a timer.
type Name string

// Timers used by the switching engine.
const (
	SideBySide   Name = "side_by_side"  // Silence window before overview may be recalled
	NewSpeaker   Name = "new_speaker"   // Debounce before a different speaker may take over
	InitialCall  Name = "initial_call"  // Switching suppression at call start
	SourceSwitch Name = "source_switch" // Settle delay between preset recall and source switch
	QAHold       Name = "qa_hold"       // Keeps a presenter Q&A composition on air
	MuteOverview Name = "mute_overview" // Delay before showing overview after mute
	WakeProbe    Name = "wake_probe"    // Delay before probing units after wake
)

// Stopper cancels a scheduled function.
type Stopper interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Handle identifies one scheduling of a named timer.
type Handle struct {
	Name Name
	Gen  uint64
}

// Expiry is delivered to the fire callback when a timer elapses.
type Expiry = Handle

type entry struct {
	gen  uint64
	stop Stopper
}

// Service manages the named timers. It is safe for concurrent use.
type Service struct {
	mu        sync.Mutex
	sched     Scheduler
	durations map[Name]time.Duration
	active    map[Name]entry
	gen       uint64
	fire      func(Expiry)
}

// Option configures a Service.
type Option func(*Service)

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) Option {
	return func(svc *Service) { svc.sched = s }
}

// New creates a timer service. fire is called from the scheduler goroutine.
func New(durations map[Name]time.Duration, fire func(Expiry), opts ...Option) *Service {
	s := &Service{
		sched:     realScheduler{},
		durations: make(map[Name]time.Duration, len(durations)),
		active:    make(map[Name]entry),
		fire:      fire,
	}
	for name, d := range durations {
		s.durations[name] = d
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the timer. Starting a running timer is a no-op that
// returns the existing handle.
func (s *Service) Start(name Name) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.active[name]; ok {
		return Handle{Name: name, Gen: e.gen}
	}
	return s.scheduleLocked(name)
}

// Restart cancels a running timer and schedules it again.
func (s *Service) Restart(name Name) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(name)
	return s.scheduleLocked(name)
}

// Stop cancels the timer. Stopping a timer that is not running is a no-op.
func (s *Service) Stop(name Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(name)
}

// StopAll cancels every running timer.
func (s *Service) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.active {
		s.stopLocked(name)
	}
}

// Running reports whether the timer is scheduled.
func (s *Service) Running(name Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[name]
	return ok
}

// Expire marks the timer as elapsed and reports whether the expiry belongs
// to the current scheduling. Stale expiries from stopped or restarted timers
// return false.
func (s *Service) Expire(e Expiry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.active[e.Name]
	if !ok || cur.gen != e.Gen {
		return false
	}
	delete(s.active, e.Name)
	return true
}

// Duration returns the configured duration of a timer.
func (s *Service) Duration(name Name) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durations[name]
}

// SetDuration changes the duration used by subsequent starts.
func (s *Service) SetDuration(name Name, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations[name] = d
}

func (s *Service) scheduleLocked(name Name) Handle {
	s.gen++
	h := Handle{Name: name, Gen: s.gen}
	stop := s.sched.AfterFunc(s.durations[name], func() { s.fire(h) })
	s.active[name] = entry{gen: h.Gen, stop: stop}
	return h
}

func (s *Service) stopLocked(name Name) bool {
	e, ok := s.active[name]
	if !ok {
		return false
	}
	e.stop.Stop()
	delete(s.active, name)
	return true
}
