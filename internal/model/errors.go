package model

import "errors"

// Error taxonomy. Scope and authorization failures are resolved at the
// requesting agent; kill-switch and data-integrity failures are surfaced to
// the operator and never swallowed.
var (
	// ErrScopeViolation marks a denied action. Recoverable: the caller must
	// revise scope or abandon the action. Never silently retried.
	ErrScopeViolation = errors.New("scope violation")

	// ErrAuthorizationTimeout marks an authorization that expired without a
	// decision. The action is denied and the requesting agent paused.
	ErrAuthorizationTimeout = errors.New("authorization timeout")

	// ErrKillSwitchTimeout is safety-critical: the kill deadline lapsed with
	// one or more agents unconfirmed. Requires operator intervention.
	ErrKillSwitchTimeout = errors.New("kill switch deadline exceeded")

	// ErrSignalDeliveryGap marks a degraded bus path. Other kill paths must
	// still succeed when this is raised.
	ErrSignalDeliveryGap = errors.New("signal delivery gap")

	// ErrDataIntegrity marks a decision record with an empty
	// decision_context. The record is kept but its evidence is tainted.
	ErrDataIntegrity = errors.New("decision record missing decision context")
)
