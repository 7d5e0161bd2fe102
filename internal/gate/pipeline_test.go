package gate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/swarmgate/internal/agentproc"
	"github.com/ppiankov/swarmgate/internal/authz"
	"github.com/ppiankov/swarmgate/internal/bus"
	"github.com/ppiankov/swarmgate/internal/evidence"
	"github.com/ppiankov/swarmgate/internal/kill"
	"github.com/ppiankov/swarmgate/internal/model"
	"github.com/ppiankov/swarmgate/internal/roe"
)

const testDoc = `
engagement: acme-q3
aggression: medium
allowed_targets:
  - 10.0.5.0/24
forbidden_ports: [25]
`

type harness struct {
	gate     *Gate
	authz    *authz.Gate
	registry *agentproc.Registry
	killsw   *kill.Switch
	signals  *bus.Memory
	store    *evidence.Store
	logPath  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	snap, err := roe.Parse([]byte(testDoc))
	if err != nil {
		t.Fatalf("parse roe: %v", err)
	}
	holder := roe.NewHolder()
	holder.Replace(snap)

	signals := bus.NewMemory()
	t.Cleanup(func() { signals.Close() })

	registry := agentproc.NewRegistry()

	authzStore, err := authz.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("authz store: %v", err)
	}
	authzGate := authz.NewGate(authzStore, signals, registry)

	dir := t.TempDir()
	logPath := filepath.Join(dir, "evidence.jsonl")
	chain, err := evidence.Open(logPath)
	if err != nil {
		t.Fatalf("evidence log: %v", err)
	}
	t.Cleanup(func() { chain.Close() })
	store, err := evidence.OpenStore(filepath.Join(dir, "evidence.db"))
	if err != nil {
		t.Fatalf("evidence store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	recorder := evidence.NewRecorder(chain, store)

	killsw := kill.NewSwitch(signals, registry, nil, kill.WithDeadline(200*time.Millisecond))

	return &harness{
		gate:     New(holder, authzGate, recorder, signals, registry, killsw, nil, model.RunCoordinated),
		authz:    authzGate,
		registry: registry,
		killsw:   killsw,
		signals:  signals,
		store:    store,
		logPath:  logPath,
	}
}

func request(id, target string, sensitive bool) *model.ActionRequest {
	return &model.ActionRequest{
		ID:              id,
		AgentID:         "scout-1",
		Target:          target,
		Tool:            "web_scan",
		Sensitive:       sensitive,
		Timestamp:       time.Now().UTC(),
		DecisionContext: []string{"tasking:scout-1"},
	}
}

func (h *harness) records(t *testing.T) []model.DecisionRecord {
	t.Helper()
	records, err := evidence.ReadAll(h.logPath)
	if err != nil {
		t.Fatalf("read evidence: %v", err)
	}
	return records
}

func TestAllowInScopeNonSensitive(t *testing.T) {
	h := newHarness(t)

	d := h.gate.HandleAction(context.Background(), request("act-1", "10.0.5.10:443", false))
	if d.Verdict != model.VerdictAllow {
		t.Fatalf("expected allow, got %s (%s)", d.Verdict, d.Reason)
	}

	// Allows are recorded by the caller after execution, not by the gate.
	if got := h.records(t); len(got) != 0 {
		t.Errorf("expected no record before RecordExecution, got %d", len(got))
	}

	act := request("act-1", "10.0.5.10:443", false)
	if err := h.gate.RecordExecution(context.Background(), act, []string{"sig-1"}); err != nil {
		t.Fatalf("RecordExecution failed: %v", err)
	}
	got := h.records(t)
	if len(got) != 1 || got[0].EmittedSignals[0] != "sig-1" {
		t.Errorf("expected executed record with emitted signals, got %+v", got)
	}
}

func TestDenyOutOfScopePublishesViolation(t *testing.T) {
	h := newHarness(t)
	sub := h.signals.Subscribe(model.SignalScopeViolation)
	defer sub.Cancel()

	d := h.gate.HandleAction(context.Background(), request("act-1", "192.168.99.1", false))
	if d.Verdict != model.VerdictDeny {
		t.Fatalf("expected deny, got %s", d.Verdict)
	}

	select {
	case sig := <-sub.C:
		if sig.AgentID != "scout-1" {
			t.Errorf("violation signal for wrong agent: %s", sig.AgentID)
		}
	case <-time.After(time.Second):
		t.Fatal("scope_violation signal never published")
	}

	got := h.records(t)
	if len(got) != 1 || got[0].Outcome != model.VerdictDeny {
		t.Errorf("deny must be recorded immediately, got %+v", got)
	}
}

func TestDenyForbiddenPort(t *testing.T) {
	h := newHarness(t)
	d := h.gate.HandleAction(context.Background(), request("act-1", "10.0.5.10:25", false))
	if d.Verdict != model.VerdictDeny {
		t.Errorf("expected deny on forbidden port, got %s", d.Verdict)
	}
}

func TestSensitivePausesUntilApproved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d := h.gate.HandleAction(ctx, request("act-1", "10.0.5.10", true))
	if d.Verdict != model.VerdictPaused {
		t.Fatalf("expected paused awaiting authorization, got %s (%s)", d.Verdict, d.Reason)
	}
	if d.AuthState != authz.StatePending {
		t.Errorf("expected pending auth state, got %s", d.AuthState)
	}

	if _, err := h.authz.Approve(ctx, "act-1", "operator"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	d = h.gate.HandleAction(ctx, request("act-1", "10.0.5.10", true))
	if d.Verdict != model.VerdictAllow {
		t.Fatalf("expected allow after approval, got %s (%s)", d.Verdict, d.Reason)
	}
	if d.AuthState != authz.StateApproved {
		t.Errorf("expected approved auth state, got %s", d.AuthState)
	}
}

// A sensitive action that was paused for authorization still gets its
// execution record into the query store after approval.
func TestApprovedActionExecutionReachesStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d := h.gate.HandleAction(ctx, request("act-1", "10.0.5.10", true))
	if d.Verdict != model.VerdictPaused {
		t.Fatalf("expected paused, got %s", d.Verdict)
	}
	if _, err := h.authz.Approve(ctx, "act-1", "operator"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	act := request("act-1", "10.0.5.10", true)
	d = h.gate.HandleAction(ctx, act)
	if d.Verdict != model.VerdictAllow {
		t.Fatalf("expected allow after approval, got %s (%s)", d.Verdict, d.Reason)
	}
	if err := h.gate.RecordExecution(ctx, act, []string{"sig-1"}); err != nil {
		t.Fatalf("RecordExecution failed: %v", err)
	}

	got, err := h.store.ListByRun(ctx, model.RunCoordinated)
	if err != nil {
		t.Fatalf("ListByRun failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected paused and executed records in the store, got %d", len(got))
	}
	last := got[len(got)-1]
	if last.Outcome != model.VerdictAllow || len(last.EmittedSignals) != 1 {
		t.Errorf("executed record missing from store, got %+v", last)
	}
}

func TestSensitiveDeniedStaysDenied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gate.HandleAction(ctx, request("act-1", "10.0.5.10", true))
	if _, err := h.authz.Deny(ctx, "act-1", "operator"); err != nil {
		t.Fatalf("Deny failed: %v", err)
	}

	d := h.gate.HandleAction(ctx, request("act-1", "10.0.5.10", true))
	if d.Verdict != model.VerdictDeny {
		t.Fatalf("expected deny after denial, got %s", d.Verdict)
	}
}

func TestPausedAgentGetsNoSensitiveActions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registry.Register("scout-1", nil)
	h.registry.Pause("scout-1", "authorization expired")

	d := h.gate.HandleAction(ctx, request("act-1", "10.0.5.10", true))
	if d.Verdict != model.VerdictPaused {
		t.Fatalf("expected paused verdict, got %s", d.Verdict)
	}

	// Non-sensitive work continues while paused.
	d = h.gate.HandleAction(ctx, request("act-2", "10.0.5.10", false))
	if d.Verdict != model.VerdictAllow {
		t.Errorf("paused agent may still take non-sensitive actions, got %s", d.Verdict)
	}

	h.registry.Resume("scout-1")
	d = h.gate.HandleAction(ctx, request("act-3", "10.0.5.10", true))
	if d.Verdict == model.VerdictHalted {
		t.Errorf("unexpected verdict after resume: %s", d.Verdict)
	}
}

func TestTriggeredKillHaltsEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.killsw.Trigger(ctx, model.KillSourceHuman)

	d := h.gate.HandleAction(ctx, request("act-1", "10.0.5.10", false))
	if d.Verdict != model.VerdictHalted {
		t.Fatalf("expected halted after kill, got %s", d.Verdict)
	}

	got := h.records(t)
	if len(got) != 1 || got[0].Outcome != model.VerdictHalted {
		t.Errorf("halted verdict must be recorded, got %+v", got)
	}
}
