// Package alert posts safety-relevant events to operator webhooks. Kill
// timeouts and data-integrity defects are never swallowed: if no webhook is
// configured the caller still logs them, but when one is, it fires.
package alert

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []Config
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []Config) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: configs}
}

// Dispatch sends the event to all webhooks whose Events list matches.
// Fires goroutines and does not block the caller.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if matches(cfg.Events, event) {
			go Send(cfg, event)
		}
	}
}

func matches(events []string, event Event) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == event.Type {
			return true
		}
	}
	return false
}
