package editor

import (
	"context"
	"sync"
	"time"
)

// Status is the save indicator shown next to the editor.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
)

const (
	DefaultAutosaveDelay = time.Second
	DefaultErrorWindow   = 3 * time.Second
	defaultSaveTimeout   = 30 * time.Second
)

// SaveFunc persists the current state. It is never called concurrently with itself.
type SaveFunc func(ctx context.Context) error

type flight struct {
	done chan struct{}
	err  error
}

// Scheduler debounces mutations into saves. At most one save runs at a time; mutations made
// while a save is running trigger one trailing save as soon as it finishes.
type Scheduler struct {
	save        SaveFunc
	delay       time.Duration
	errorWindow time.Duration
	saveTimeout time.Duration

	mu              sync.Mutex
	timer           *time.Timer
	errTimer        *time.Timer
	status          Status
	dirty           bool
	touchedInFlight bool
	current         *flight
	stopped         bool
	errSeq          int
	// timerGen identifies the armed debounce timer; callbacks from older timers are ignored.
	timerGen uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDelay sets the quiet period after the last mutation before a save starts.
func WithDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithErrorWindow sets how long the error status is shown before reverting to idle.
func WithErrorWindow(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.errorWindow = d
		}
	}
}

// WithSaveTimeout bounds a single save.
func WithSaveTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.saveTimeout = d
		}
	}
}

func NewScheduler(save SaveFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		save:        save,
		delay:       DefaultAutosaveDelay,
		errorWindow: DefaultErrorWindow,
		saveTimeout: defaultSaveTimeout,
		status:      StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Touch records a mutation and restarts the debounce window.
func (s *Scheduler) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.dirty = true
	if s.current != nil {
		s.touchedInFlight = true
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(s.delay, func() { s.fire(gen) })
}

// fire runs when a debounce timer expires. Stop does not wait for a callback that is already
// running, so one from a replaced timer must not start a save.
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.timerGen || s.stopped || !s.dirty || s.current != nil {
		return
	}
	s.startLocked()
}

func (s *Scheduler) startLocked() *flight {
	s.disarmLocked()
	f := &flight{done: make(chan struct{})}
	s.current = f
	s.dirty = false
	s.touchedInFlight = false
	s.status = StatusSaving
	go s.run(f)
	return f
}

func (s *Scheduler) run(f *flight) {
	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	err := s.save(ctx)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	f.err = err
	s.current = nil
	close(f.done)

	if err != nil {
		// The mutations covered by the failed save are still unsaved.
		s.dirty = true
		s.status = StatusError
		s.errSeq++
		seq := s.errSeq
		if s.errTimer != nil {
			s.errTimer.Stop()
		}
		s.errTimer = time.AfterFunc(s.errorWindow, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.status == StatusError && s.errSeq == seq {
				s.status = StatusIdle
			}
		})
	} else {
		s.status = StatusSaved
	}

	if s.touchedInFlight && !s.stopped {
		s.startLocked()
	}
}

func (s *Scheduler) disarmLocked() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Flush saves immediately if there are unsaved mutations and waits for the save, including
// any trailing save, to finish. It returns the first save error it observes.
func (s *Scheduler) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.dirty && s.current == nil {
			s.startLocked()
		}
		f := s.current
		s.mu.Unlock()
		if f == nil {
			return nil
		}
		select {
		case <-f.done:
			if f.err != nil {
				return f.err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop cancels pending timers. A save already running is allowed to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.disarmLocked()
	if s.errTimer != nil {
		s.errTimer.Stop()
		s.errTimer = nil
	}
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Dirty reports whether there are mutations not yet covered by a successful save.
func (s *Scheduler) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty || s.current != nil
}
