package agentproc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func okHandle(counter *atomic.Int64) Handle {
	return HandleFunc(func(ctx context.Context) error {
		counter.Add(1)
		return nil
	})
}

func TestRegisterDeregister(t *testing.T) {
	r := NewRegistry()
	r.Register("a", HandleFunc(func(ctx context.Context) error { return nil }))
	r.Register("b", nil)

	if !r.IsRegistered("a") {
		t.Error("expected a registered")
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 agents, got %d", r.Len())
	}

	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("expected sorted [a b], got %v", ids)
	}

	r.Deregister("a")
	if r.IsRegistered("a") {
		t.Error("expected a deregistered")
	}
}

func TestPauseResume(t *testing.T) {
	r := NewRegistry()
	r.Register("a", nil)

	if ok := r.Pause("missing", "x"); ok {
		t.Error("pausing unknown agent must fail")
	}

	if ok := r.Pause("a", "authorization expired"); !ok {
		t.Fatal("Pause failed")
	}
	paused, reason := r.IsPaused("a")
	if !paused || reason != "authorization expired" {
		t.Errorf("expected paused with reason, got %v %q", paused, reason)
	}
	if got := r.Paused(); len(got) != 1 || got[0] != "a" {
		t.Errorf("expected paused list [a], got %v", got)
	}

	if ok := r.Resume("a"); !ok {
		t.Fatal("Resume failed")
	}
	if paused, _ := r.IsPaused("a"); paused {
		t.Error("expected resumed")
	}
}

func TestTerminateAllHappyPath(t *testing.T) {
	r := NewRegistry()
	var calls atomic.Int64
	for i := 0; i < 50; i++ {
		r.Register(fmt.Sprintf("agent-%02d", i), okHandle(&calls))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unresolved := r.TerminateAll(ctx)
	if len(unresolved) != 0 {
		t.Errorf("expected no unresolved, got %v", unresolved)
	}
	if calls.Load() != 50 {
		t.Errorf("expected 50 terminations, got %d", calls.Load())
	}
}

func TestTerminateAllReportsFailures(t *testing.T) {
	r := NewRegistry()
	var calls atomic.Int64
	r.Register("good", okHandle(&calls))
	r.Register("bad", HandleFunc(func(ctx context.Context) error {
		return errors.New("worker did not exit")
	}))
	r.Register("nil-handle", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unresolved := r.TerminateAll(ctx)
	if len(unresolved) != 2 || unresolved[0] != "bad" || unresolved[1] != "nil-handle" {
		t.Errorf("expected unresolved [bad nil-handle], got %v", unresolved)
	}
}

func TestTerminateAllHonorsDeadline(t *testing.T) {
	r := NewRegistry()
	var calls atomic.Int64
	r.Register("fast", okHandle(&calls))
	r.Register("hung", HandleFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	unresolved := r.TerminateAll(ctx)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("TerminateAll took %s, must respect the deadline", elapsed)
	}
	if len(unresolved) != 1 || unresolved[0] != "hung" {
		t.Errorf("expected unresolved [hung], got %v", unresolved)
	}
}
