package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/swarmgate/internal/agentproc"
	"github.com/ppiankov/swarmgate/internal/bus"
	"github.com/ppiankov/swarmgate/internal/model"
)

// DefaultTimeout is how long a request may sit undecided before it expires
// and the requesting agent is auto-paused.
const DefaultTimeout = 24 * time.Hour

// DefaultSweepInterval is how often the background sweep checks deadlines.
const DefaultSweepInterval = 30 * time.Second

// Clock provides time to the gate. Inject a fixed clock in tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Gate tracks pending authorizations for sensitive actions. Submitting is a
// synchronous, sub-second call working only against the local store; the
// bus publish is best-effort and never blocks resolution.
type Gate struct {
	store    *Store
	signals  bus.Bus
	registry *agentproc.Registry
	clock    Clock
	timeout  time.Duration
	onExpire func(Request)
}

// Option configures a Gate.
type Option func(*Gate)

// WithTimeout overrides the default 24h decision window.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithOnExpire registers a hook called once per request that expires during
// a sweep, after the auto-pause is applied.
func WithOnExpire(fn func(Request)) Option {
	return func(g *Gate) {
		g.onExpire = fn
	}
}

// WithClock injects a deterministic clock.
func WithClock(c Clock) Option {
	return func(g *Gate) {
		if c != nil {
			g.clock = c
		}
	}
}

// NewGate creates an authorization gate.
func NewGate(store *Store, signals bus.Bus, registry *agentproc.Registry, opts ...Option) *Gate {
	g := &Gate{
		store:    store,
		signals:  signals,
		registry: registry,
		clock:    wallClock{},
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SubmitResult describes what happened to a submission.
type SubmitResult struct {
	Request *Request
	Created bool
	// Blocked means a different pending request by the same agent against
	// the same target already exists; the new action must wait for it.
	Blocked bool
}

// Submit files an authorization request for a sensitive action. Duplicate
// submissions for the same action ID join the existing request. While an
// agent has a pending request for a target, further sensitive actions from
// that agent against the same target come back with Blocked=true.
func (g *Gate) Submit(ctx context.Context, action *model.ActionRequest) (SubmitResult, error) {
	if action == nil || action.ID == "" {
		return SubmitResult{}, fmt.Errorf("authz: action with id required")
	}

	pending, err := g.store.Pending()
	if err != nil {
		return SubmitResult{}, err
	}
	for _, req := range pending {
		if req.ActionID != action.ID && req.AgentID == action.AgentID && req.Target == action.Target {
			return SubmitResult{Request: &req, Blocked: true}, nil
		}
	}

	now := g.clock.Now().UTC()
	req, created, err := g.store.Create(Request{
		ActionID:  action.ID,
		AgentID:   action.AgentID,
		Target:    action.Target,
		Tool:      action.Tool,
		CreatedAt: now,
		Deadline:  now.Add(g.timeout),
	})
	if err != nil {
		return SubmitResult{}, err
	}

	if created {
		g.publish(ctx, model.SignalAuthRequested, req, "")
	}

	return SubmitResult{Request: req, Created: created}, nil
}

// Approve resolves a request as approved. Duplicate decisions return
// ErrAlreadyResolved; the original resolution stands.
func (g *Gate) Approve(ctx context.Context, actionID, operator string) (*Request, error) {
	req, err := g.store.Decide(actionID, StateApproved, operator, g.clock.Now())
	if err != nil {
		return req, err
	}
	g.publish(ctx, model.SignalAuthResult, req, operator)
	return req, nil
}

// Deny resolves a request as denied.
func (g *Gate) Deny(ctx context.Context, actionID, operator string) (*Request, error) {
	req, err := g.store.Decide(actionID, StateDenied, operator, g.clock.Now())
	if err != nil {
		return req, err
	}
	g.publish(ctx, model.SignalAuthResult, req, operator)
	return req, nil
}

// Check returns the current state for an action ID.
func (g *Gate) Check(actionID string) (State, error) {
	req, err := g.store.Get(actionID)
	if err != nil {
		return "", err
	}
	return req.State, nil
}

// Pending lists unresolved requests for the operator console.
func (g *Gate) Pending() ([]Request, error) {
	return g.store.Pending()
}

// Sweep expires overdue requests and applies the auto-pause policy: the
// pending action is treated as denied and the requesting agent is paused,
// not killed. Returns the requests that expired on this pass.
func (g *Gate) Sweep(ctx context.Context) ([]Request, error) {
	expired, err := g.store.ExpireDue(g.clock.Now())
	if err != nil {
		return nil, err
	}
	for i := range expired {
		req := expired[i]
		if g.registry != nil {
			g.registry.Pause(req.AgentID, fmt.Sprintf("authorization for action %s expired", req.ActionID))
		}
		g.publish(ctx, model.SignalAuthResult, &req, "")
		if g.onExpire != nil {
			g.onExpire(req)
		}
	}
	return expired, nil
}

// Run polls for expiry until ctx is cancelled. Expiry stays off the
// action hot path.
func (g *Gate) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep(ctx)
		}
	}
}

func (g *Gate) publish(ctx context.Context, t model.SignalType, req *Request, operator string) {
	if g.signals == nil {
		return
	}
	payload := map[string]any{
		"action_id": req.ActionID,
		"agent_id":  req.AgentID,
		"target":    req.Target,
		"state":     string(req.State),
	}
	if operator != "" {
		payload["decided_by"] = operator
	}
	// Best effort: a degraded bus must not block authorization resolution.
	_ = g.signals.Publish(ctx, bus.NewSignal(t, "", payload))
}
