// Package scope is the fail-closed gate every action passes before any
// side-effecting call. Validation is a pure function over the last-loaded
// RoE snapshot: no I/O, no bus dependency, bounded sub-second work. A denied
// action is never retried by the core; the caller must obtain a revised
// scope or abandon the action.
package scope

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/swarmgate/internal/model"
	"github.com/ppiankov/swarmgate/internal/roe"
)

// Result is the outcome of a scope check.
type Result struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason"`
	RoEVersion int    `json:"roe_version"`
	RoEHash    string `json:"roe_hash,omitempty"`
}

func deny(version int, hash, format string, args ...any) Result {
	return Result{
		Allowed:    false,
		Reason:     fmt.Sprintf(format, args...),
		RoEVersion: version,
		RoEHash:    hash,
	}
}

// Validate checks one action against the RoE snapshot.
//
// Deny conditions (any one suffices):
//  1. No RoE loaded, or the document is not in force at `now`
//  2. Malformed action (missing agent, target, or tool)
//  3. Target address outside the allowed set
//  4. Target port in the forbidden set
//  5. Any internal evaluation failure
//
// The policy is fail-closed: there is no path through this function that
// turns an error or an ambiguous match into an Allow.
func Validate(action *model.ActionRequest, snap *roe.Snapshot, now time.Time) (result Result) {
	// Fail-closed backstop: an evaluation panic is a Deny, never an escape.
	defer func() {
		if r := recover(); r != nil {
			result = deny(0, "", "internal validation error: %v", r)
		}
	}()

	if snap == nil {
		return deny(0, "", "no rules of engagement loaded")
	}

	version, hash := snap.Version, snap.Hash

	if !snap.ActiveAt(now) {
		return deny(version, hash, "rules of engagement not in force at %s", now.UTC().Format(time.RFC3339))
	}

	if action == nil {
		return deny(version, hash, "nil action request")
	}
	if action.AgentID == "" {
		return deny(version, hash, "malformed action: missing agent id")
	}
	if action.Tool == "" {
		return deny(version, hash, "malformed action: missing tool")
	}
	if strings.TrimSpace(action.Target) == "" {
		return deny(version, hash, "malformed action: missing target")
	}

	host, port, hasPort, err := splitTarget(action.Target)
	if err != nil {
		return deny(version, hash, "malformed target %q: %v", action.Target, err)
	}

	if hasPort && snap.PortForbidden(port) {
		return deny(version, hash, "port %d is forbidden by the engagement", port)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if !snap.AllowsAddr(addr) {
			return deny(version, hash, "target %s outside allowed scope", host)
		}
	} else {
		// Non-IP targets must match an allowed resource pattern exactly;
		// no pattern configured means no non-IP target is in scope.
		if !snap.AllowsName(host) {
			return deny(version, hash, "resource %q outside allowed scope", host)
		}
	}

	return Result{
		Allowed:    true,
		Reason:     "within engagement scope",
		RoEVersion: version,
		RoEHash:    hash,
	}
}

// splitTarget parses "host", "host:port", or "[v6]:port" forms.
func splitTarget(target string) (host string, port uint16, hasPort bool, err error) {
	target = strings.TrimSpace(target)

	// Bracketed IPv6 with port
	if strings.HasPrefix(target, "[") {
		end := strings.Index(target, "]")
		if end < 0 {
			return "", 0, false, fmt.Errorf("unterminated bracket")
		}
		host = target[1:end]
		rest := target[end+1:]
		if rest == "" {
			return host, 0, false, nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", 0, false, fmt.Errorf("unexpected trailing %q", rest)
		}
		p, perr := parsePort(rest[1:])
		if perr != nil {
			return "", 0, false, perr
		}
		return host, p, true, nil
	}

	// Bare IPv6 (multiple colons, no brackets) carries no port.
	if strings.Count(target, ":") > 1 {
		return target, 0, false, nil
	}

	if i := strings.LastIndex(target, ":"); i >= 0 {
		p, perr := parsePort(target[i+1:])
		if perr != nil {
			return "", 0, false, perr
		}
		return target[:i], p, true, nil
	}

	return target, 0, false, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range", n)
	}
	return uint16(n), nil
}

// ViolationSignal builds the scope-violation signal published on every deny.
func ViolationSignal(id string, action *model.ActionRequest, res Result, now time.Time) model.Signal {
	payload := map[string]any{
		"reason":      res.Reason,
		"roe_version": res.RoEVersion,
	}
	agentID := ""
	if action != nil {
		agentID = action.AgentID
		payload["action_id"] = action.ID
		payload["target"] = action.Target
		payload["tool"] = action.Tool
	}
	return model.Signal{
		ID:        id,
		Type:      model.SignalScopeViolation,
		AgentID:   agentID,
		Payload:   payload,
		Timestamp: now.UTC(),
	}
}
