package alert

// Config defines a webhook alert destination.
type Config struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // e.g. ["kill_switch_timeout", "scope_violation"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event types the dispatcher matches against.
const (
	EventScopeViolation       = "scope_violation"
	EventAuthorizationTimeout = "authorization_timeout"
	EventKillSwitchTimeout    = "kill_switch_timeout"
	EventDataIntegrity        = "data_integrity"
)

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	AgentID   string `json:"agent_id,omitempty"`
	ActionID  string `json:"action_id,omitempty"`
	Target    string `json:"target,omitempty"`
	Reason    string `json:"reason"`
	RoEHash   string `json:"roe_hash,omitempty"`

	// Unresolved carries the outstanding agent set on kill timeouts.
	Unresolved []string `json:"unresolved,omitempty"`
}
