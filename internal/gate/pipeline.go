// Package gate is the request pipeline every agent action passes through:
// scope validation, then the authorization gate for sensitive actions, then
// evidence recording. The pipeline is synchronous and works only from local
// state; a degraded bus cannot block a verdict.
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/swarmgate/internal/agentproc"
	"github.com/ppiankov/swarmgate/internal/alert"
	"github.com/ppiankov/swarmgate/internal/authz"
	"github.com/ppiankov/swarmgate/internal/bus"
	"github.com/ppiankov/swarmgate/internal/evidence"
	"github.com/ppiankov/swarmgate/internal/kill"
	"github.com/ppiankov/swarmgate/internal/model"
	"github.com/ppiankov/swarmgate/internal/roe"
	"github.com/ppiankov/swarmgate/internal/scope"
)

// Decision is the pipeline's verdict on one action request.
type Decision struct {
	Verdict    model.Verdict `json:"verdict"`
	Reason     string        `json:"reason"`
	RoEVersion int           `json:"roe_version"`
	AuthState  authz.State   `json:"auth_state,omitempty"`
}

// Gate wires the safety core together for the agent runtime boundary.
type Gate struct {
	holder   *roe.Holder
	authz    *authz.Gate
	recorder *evidence.Recorder
	signals  bus.Bus
	registry *agentproc.Registry
	killsw   *kill.Switch
	alerts   *alert.Dispatcher
	run      model.RunID
}

// New creates the pipeline. alerts may be nil.
func New(
	holder *roe.Holder,
	authzGate *authz.Gate,
	recorder *evidence.Recorder,
	signals bus.Bus,
	registry *agentproc.Registry,
	killsw *kill.Switch,
	alerts *alert.Dispatcher,
	run model.RunID,
) *Gate {
	return &Gate{
		holder:   holder,
		authz:    authzGate,
		recorder: recorder,
		signals:  signals,
		registry: registry,
		killsw:   killsw,
		alerts:   alerts,
		run:      run,
	}
}

// HandleAction runs one action request through the pipeline.
//
// Order (must not be changed):
//  1. Kill state: a triggered kill switch halts everything
//  2. Pause state: a paused agent gets no sensitive actions
//  3. Scope validation: fail-closed, publishes ScopeViolation on deny
//  4. Authorization gate: sensitive actions wait for an explicit approval
//
// Deny, pause, and halt verdicts are recorded immediately. An Allow is
// recorded by the caller via RecordExecution once the tool call finished,
// so the record carries the signals the action emitted.
func (g *Gate) HandleAction(ctx context.Context, action *model.ActionRequest) Decision {
	now := time.Now().UTC()

	if g.killsw != nil {
		if _, triggered := g.killsw.Event(); triggered {
			d := Decision{Verdict: model.VerdictHalted, Reason: "kill switch triggered"}
			g.record(ctx, action, d.Verdict)
			return d
		}
	}

	if action != nil && action.Sensitive && g.registry != nil {
		if paused, reason := g.registry.IsPaused(action.AgentID); paused {
			d := Decision{Verdict: model.VerdictPaused, Reason: "agent paused: " + reason}
			g.record(ctx, action, d.Verdict)
			return d
		}
	}

	res := scope.Validate(action, g.holder.Current(), now)
	if !res.Allowed {
		g.onScopeViolation(ctx, action, res, now)
		d := Decision{Verdict: model.VerdictDeny, Reason: res.Reason, RoEVersion: res.RoEVersion}
		g.record(ctx, action, d.Verdict)
		return d
	}

	if action.Sensitive {
		return g.handleSensitive(ctx, action, res)
	}

	return Decision{Verdict: model.VerdictAllow, Reason: res.Reason, RoEVersion: res.RoEVersion}
}

func (g *Gate) handleSensitive(ctx context.Context, action *model.ActionRequest, res scope.Result) Decision {
	sub, err := g.authz.Submit(ctx, action)
	if err != nil {
		// Fail-closed: an authorization bookkeeping failure is a deny.
		d := Decision{Verdict: model.VerdictDeny, Reason: "authorization unavailable: " + err.Error(), RoEVersion: res.RoEVersion}
		g.record(ctx, action, d.Verdict)
		return d
	}

	if sub.Blocked {
		d := Decision{
			Verdict:    model.VerdictPaused,
			Reason:     "another authorization pending for this target",
			RoEVersion: res.RoEVersion,
			AuthState:  authz.StatePending,
		}
		g.record(ctx, action, d.Verdict)
		return d
	}

	switch sub.Request.State {
	case authz.StateApproved:
		return Decision{Verdict: model.VerdictAllow, Reason: "authorized", RoEVersion: res.RoEVersion, AuthState: authz.StateApproved}
	case authz.StateDenied:
		d := Decision{Verdict: model.VerdictDeny, Reason: "authorization denied", RoEVersion: res.RoEVersion, AuthState: authz.StateDenied}
		g.record(ctx, action, d.Verdict)
		return d
	case authz.StateExpired:
		d := Decision{Verdict: model.VerdictDeny, Reason: "authorization expired", RoEVersion: res.RoEVersion, AuthState: authz.StateExpired}
		g.record(ctx, action, d.Verdict)
		return d
	default:
		d := Decision{
			Verdict:    model.VerdictPaused,
			Reason:     "awaiting authorization",
			RoEVersion: res.RoEVersion,
			AuthState:  authz.StatePending,
		}
		g.record(ctx, action, d.Verdict)
		return d
	}
}

// RecordExecution writes the evidence record for an executed (allowed)
// action, including the signals it emitted.
func (g *Gate) RecordExecution(ctx context.Context, action *model.ActionRequest, emitted []string) error {
	if g.recorder == nil || action == nil {
		return nil
	}
	rec := model.DecisionRecord{
		ActionID:        action.ID,
		AgentID:         action.AgentID,
		Target:          action.Target,
		Tool:            action.Tool,
		Outcome:         model.VerdictAllow,
		DecisionContext: action.DecisionContext,
		EmittedSignals:  emitted,
		RunID:           g.run,
		Timestamp:       time.Now().UTC(),
	}
	err := g.recorder.Record(ctx, rec)
	if err != nil {
		g.onIntegrityDefect(action, err)
	}
	return err
}

func (g *Gate) record(ctx context.Context, action *model.ActionRequest, outcome model.Verdict) {
	if g.recorder == nil || action == nil {
		return
	}
	rec := model.DecisionRecord{
		ActionID:        action.ID,
		AgentID:         action.AgentID,
		Target:          action.Target,
		Tool:            action.Tool,
		Outcome:         outcome,
		DecisionContext: action.DecisionContext,
		RunID:           g.run,
		Timestamp:       time.Now().UTC(),
	}
	if err := g.recorder.Record(ctx, rec); err != nil {
		g.onIntegrityDefect(action, err)
	}
}

func (g *Gate) onScopeViolation(ctx context.Context, action *model.ActionRequest, res scope.Result, now time.Time) {
	if g.signals != nil {
		sig := scope.ViolationSignal(uuid.NewString(), action, res, now)
		// Best effort: the verdict does not depend on the bus.
		_ = g.signals.Publish(ctx, sig)
	}
	if g.alerts != nil && action != nil {
		g.alerts.Dispatch(alert.Event{
			Timestamp: now.Format(time.RFC3339),
			Type:      alert.EventScopeViolation,
			AgentID:   action.AgentID,
			ActionID:  action.ID,
			Target:    action.Target,
			Reason:    res.Reason,
			RoEHash:   res.RoEHash,
		})
	}
}

func (g *Gate) onIntegrityDefect(action *model.ActionRequest, err error) {
	if g.alerts == nil || !errors.Is(err, model.ErrDataIntegrity) {
		return
	}
	g.alerts.Dispatch(alert.Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Type:      alert.EventDataIntegrity,
		AgentID:   action.AgentID,
		ActionID:  action.ID,
		Reason:    err.Error(),
	})
}
