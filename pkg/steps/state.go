package steps

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAlreadyRun is returned when a step that already left the queued
// status is run again.
var ErrAlreadyRun = errors.New("step already run")

// State tracks status, progress and duration for a step. Concrete steps
// embed it and wrap their work in Track. It is safe to read concurrently
// while the step runs.
type State struct {
	mu       sync.RWMutex
	status   Status
	progress float64
	duration time.Duration
	onChange func()
}

func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *State) Progress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusOngoing {
		return -1
	}
	return s.progress
}

func (s *State) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.duration
}

// SetProgress records fractional progress, clamped to [0, 1].
func (s *State) SetProgress(p float64) {
	p = min(max(p, 0), 1)

	s.mu.Lock()
	if s.status != StatusOngoing {
		s.mu.Unlock()
		return
	}
	s.progress = p
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Track runs work with the queued -> ongoing -> successful/unsuccessful
// transitions applied around it. A panic inside work is returned as an
// error and marks the step unsuccessful.
func (s *State) Track(sctx StepContext, work func() error) (err error) {
	s.mu.Lock()
	if s.status != StatusQueued {
		s.mu.Unlock()
		return ErrAlreadyRun
	}
	s.status = StatusOngoing
	s.progress = -1
	s.onChange = sctx.OnChange
	s.mu.Unlock()
	s.notify()

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}

		s.mu.Lock()
		s.duration = elapsed
		if err == nil {
			s.status = StatusSuccessful
		} else {
			s.status = StatusUnsuccessful
		}
		s.mu.Unlock()
		s.notify()
	}()

	return work()
}

func (s *State) notify() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
