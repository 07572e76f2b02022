package bridge

import (
	"context"
	"sync"
)

// PassFunc runs one pass. A nil paths slice means every configured file.
type PassFunc func(ctx context.Context, paths []string, force bool)

// Scheduler serialises passes on a single worker.
//
// At most one request is pending at any time. Triggers that arrive while
// a pass runs are merged into it: paths are unioned (a full-pass request
// absorbs any path list) and force is OR-ed.
type Scheduler struct {
	run PassFunc

	mu      sync.Mutex
	pending *passRequest

	wake chan struct{}
}

// passRequest is the merged pending trigger.
type passRequest struct {
	force bool
	all   bool
	paths []string
	seen  map[string]struct{}
}

// NewScheduler creates a scheduler running passes with run.
func NewScheduler(run PassFunc) *Scheduler {
	return &Scheduler{
		run:  run,
		wake: make(chan struct{}, 1),
	}
}

// Trigger requests a pass. It never blocks.
//
// Parameters:
//   - force: Publish regardless of change detection
//   - paths: Files to load; none means all configured files
func (s *Scheduler) Trigger(force bool, paths ...string) {
	s.mu.Lock()
	req := s.pending
	if req == nil {
		req = &passRequest{seen: make(map[string]struct{})}
		s.pending = req
	}
	req.force = req.force || force
	if len(paths) == 0 {
		req.all = true
	}
	for _, p := range paths {
		if _, ok := req.seen[p]; ok {
			continue
		}
		req.seen[p] = struct{}{}
		req.paths = append(req.paths, p)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending reports whether a pass is waiting to run.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// take removes and returns the pending request.
func (s *Scheduler) take() *passRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.pending
	s.pending = nil
	return req
}

// Run executes pending passes until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		}

		req := s.take()
		if req == nil {
			continue
		}
		var paths []string
		if !req.all {
			paths = req.paths
		}
		s.run(ctx, paths, req.force)
	}
}
