package model

import "time"

// AggressionLevel bounds how intrusive agents may be during an engagement.
type AggressionLevel string

const (
	AggressionLow    AggressionLevel = "low"
	AggressionMedium AggressionLevel = "medium"
	AggressionHigh   AggressionLevel = "high"
)

// AggressionRank maps aggression to a comparable integer for monotonic checks.
var AggressionRank = map[AggressionLevel]int{
	AggressionLow:    0,
	AggressionMedium: 1,
	AggressionHigh:   2,
}

// Verdict is the outcome the core hands back to the agent runtime.
type Verdict string

const (
	VerdictAllow  Verdict = "allow"
	VerdictDeny   Verdict = "deny"
	VerdictPaused Verdict = "paused"
	VerdictHalted Verdict = "halted"
)

// RunID tags a decision dataset by how the agents that produced it ran.
type RunID string

const (
	RunIsolated    RunID = "isolated"
	RunCoordinated RunID = "coordinated"
)

// ValidRunID reports whether s is a known run identifier.
func ValidRunID(s string) bool {
	return RunID(s) == RunIsolated || RunID(s) == RunCoordinated
}

// ActionRequest is one proposed tool invocation. It is created by an agent
// before executing a tool call and is immutable once built: the scope
// validator and authorization gate read it, they never mutate it.
type ActionRequest struct {
	ID              string    `json:"id"`
	AgentID         string    `json:"agent_id"`
	Target          string    `json:"target"` // ip:port or named resource
	Tool            string    `json:"tool"`
	Category        string    `json:"category"`
	Sensitive       bool      `json:"sensitive"`
	Timestamp       time.Time `json:"timestamp"`
	DecisionContext []string  `json:"decision_context"` // signal IDs consulted, in order
}

// SignalType classifies coordination signals on the bus.
type SignalType string

const (
	SignalFinding        SignalType = "finding"
	SignalScopeUpdate    SignalType = "scope_update"
	SignalScopeViolation SignalType = "scope_violation"
	SignalKillCommand    SignalType = "kill_command"
	SignalKillAck        SignalType = "kill_ack"
	SignalAuthRequested  SignalType = "authorization_requested"
	SignalAuthResult     SignalType = "authorization_result"
)

// Signal is one immutable broadcast message. Signals are append-only: they
// are never deleted, only logically superseded by newer signals.
type Signal struct {
	ID        string         `json:"id"`
	Type      SignalType     `json:"type"`
	AgentID   string         `json:"agent_id"` // originating agent, empty for operator/system
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// KillSource records what pulled the trigger.
type KillSource string

const (
	KillSourceHuman     KillSource = "human"
	KillSourceAutomatic KillSource = "automatic"
)

// KillEvent is the lifecycle record of one kill-switch activation. There is
// at most one per run; concurrent triggers join the existing event.
type KillEvent struct {
	ID          string     `json:"id"`
	Source      KillSource `json:"source"`
	TriggeredAt time.Time  `json:"triggered_at"`

	// Per-path completion timestamps. Nil means the path never confirmed.
	BusDoneAt     *time.Time `json:"bus_done_at,omitempty"`
	ProcessDoneAt *time.Time `json:"process_done_at,omitempty"`
	OrchDoneAt    *time.Time `json:"orch_done_at,omitempty"`

	// HaltedAt is set when the event finalizes: all reachable paths confirmed
	// or the hard deadline lapsed.
	HaltedAt *time.Time `json:"halted_at,omitempty"`

	// Satisfied means at least one path confirmed full halt.
	Satisfied bool `json:"satisfied"`

	// TimedOut means the deadline lapsed before every path confirmed.
	// Unresolved lists agents with no halt confirmation at that point.
	TimedOut   bool     `json:"timed_out"`
	Unresolved []string `json:"unresolved,omitempty"`
}

// DecisionRecord is one line of coordination evidence: which signals an
// agent consulted when it chose an action, and what came of it.
type DecisionRecord struct {
	ActionID        string    `json:"action_id"`
	AgentID         string    `json:"agent_id"`
	Target          string    `json:"target"`
	Tool            string    `json:"tool"`
	Outcome         Verdict   `json:"outcome"`
	DecisionContext []string  `json:"decision_context"`
	EmittedSignals  []string  `json:"emitted_signals,omitempty"` // signal IDs this action produced
	RunID           RunID     `json:"run_id"`
	Timestamp       time.Time `json:"timestamp"`

	// Tainted marks a record whose decision_context arrived empty. The
	// recorder accepts it (the run continues) but emergence analysis must
	// not treat it as full-quality evidence.
	Tainted bool `json:"tainted,omitempty"`
}
