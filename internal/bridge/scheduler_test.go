package bridge

import (
	"context"
	"sync"
	"testing"
	"time"
)

type passCall struct {
	paths []string
	force bool
}

func TestScheduler_Coalesces(t *testing.T) {
	tests := []struct {
		name     string
		triggers []passCall
		want     passCall
	}{
		{
			name:     "single full pass",
			triggers: []passCall{{nil, false}},
			want:     passCall{nil, false},
		},
		{
			name:     "paths merged in order without duplicates",
			triggers: []passCall{{[]string{"a"}, false}, {[]string{"b", "a"}, false}},
			want:     passCall{[]string{"a", "b"}, false},
		},
		{
			name:     "force is sticky",
			triggers: []passCall{{[]string{"a"}, true}, {[]string{"a"}, false}},
			want:     passCall{[]string{"a"}, true},
		},
		{
			name:     "full pass absorbs paths",
			triggers: []passCall{{[]string{"a"}, false}, {nil, false}},
			want:     passCall{nil, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(nil)
			for _, tr := range tt.triggers {
				s.Trigger(tr.force, tr.paths...)
			}
			req := s.take()
			if req == nil {
				t.Fatal("no pending request")
			}
			var paths []string
			if !req.all {
				paths = req.paths
			}
			if req.force != tt.want.force || !equalStrings(paths, tt.want.paths) {
				t.Errorf("got paths=%v force=%v, want paths=%v force=%v",
					paths, req.force, tt.want.paths, tt.want.force)
			}
			if s.Pending() {
				t.Error("Pending() = true after take")
			}
		})
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestScheduler_NoOverlapAndDepthOne(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)

	var (
		mu      sync.Mutex
		calls   []passCall
		running int
		overlap bool
	)
	run := func(_ context.Context, paths []string, force bool) {
		mu.Lock()
		running++
		if running > 1 {
			overlap = true
		}
		calls = append(calls, passCall{paths, force})
		mu.Unlock()

		started <- struct{}{}
		<-release

		mu.Lock()
		running--
		mu.Unlock()
	}

	s := NewScheduler(run)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	s.Trigger(false, "first")
	<-started

	// Arrive while the first pass runs: merged into one.
	s.Trigger(false, "a")
	s.Trigger(true, "b")
	s.Trigger(false, "a")

	release <- struct{}{}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("second pass did not start")
	}
	release <- struct{}{}

	// Let the worker go idle.
	deadline := time.Now().Add(time.Second)
	for s.Pending() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("passes overlapped")
	}
	if len(calls) != 2 {
		t.Fatalf("ran %d passes, want 2: %+v", len(calls), calls)
	}
	if !calls[1].force || !equalStrings(calls[1].paths, []string{"a", "b"}) {
		t.Errorf("merged pass = %+v, want paths [a b] forced", calls[1])
	}
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	s := NewScheduler(func(context.Context, []string, bool) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}
