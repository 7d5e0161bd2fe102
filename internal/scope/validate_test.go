package scope

import (
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/swarmgate/internal/model"
	"github.com/ppiankov/swarmgate/internal/roe"
)

const testDoc = `
engagement: acme-q3
aggression: medium
allowed_targets:
  - 10.0.5.0/24
  - "2001:db8::/64"
allowed_resources:
  - "*.acme-corp.internal"
forbidden_ports: [25, 5060]
`

func testSnap(t *testing.T) *roe.Snapshot {
	t.Helper()
	snap, err := roe.Parse([]byte(testDoc))
	if err != nil {
		t.Fatalf("parse test document: %v", err)
	}
	snap.Version = 3
	return snap
}

func action(target string) *model.ActionRequest {
	return &model.ActionRequest{
		ID:        "act-1",
		AgentID:   "scout-1",
		Target:    target,
		Tool:      "port_scan",
		Timestamp: time.Now().UTC(),
	}
}

func TestValidateAllowsInScope(t *testing.T) {
	snap := testSnap(t)
	now := time.Now().UTC()

	tests := []string{
		"10.0.5.10",
		"10.0.5.10:443",
		"2001:db8::1",
		"[2001:db8::1]:8080",
		"web01.acme-corp.internal",
		"web01.acme-corp.internal:443",
	}
	for _, target := range tests {
		t.Run(target, func(t *testing.T) {
			res := Validate(action(target), snap, now)
			if !res.Allowed {
				t.Errorf("expected allow, got deny: %s", res.Reason)
			}
			if res.RoEVersion != 3 {
				t.Errorf("expected roe version 3, got %d", res.RoEVersion)
			}
		})
	}
}

func TestValidateDenies(t *testing.T) {
	snap := testSnap(t)
	now := time.Now().UTC()

	tests := []struct {
		name   string
		act    *model.ActionRequest
		reason string
	}{
		{"nil action", nil, "nil action"},
		{"missing agent", &model.ActionRequest{Target: "10.0.5.1", Tool: "x"}, "missing agent"},
		{"missing tool", &model.ActionRequest{AgentID: "a", Target: "10.0.5.1"}, "missing tool"},
		{"missing target", &model.ActionRequest{AgentID: "a", Tool: "x", Target: "  "}, "missing target"},
		{"outside cidr", action("10.0.6.1"), "outside allowed scope"},
		{"outside v6", action("2001:db9::1"), "outside allowed scope"},
		{"forbidden port", action("10.0.5.10:25"), "forbidden"},
		{"forbidden port on allowed name", action("web.acme-corp.internal:5060"), "forbidden"},
		{"unknown name", action("db.other-corp.internal"), "outside allowed scope"},
		{"bad port", action("10.0.5.10:notaport"), "malformed target"},
		{"port out of range", action("10.0.5.10:70000"), "malformed target"},
		{"unterminated bracket", action("[2001:db8::1:443"), "malformed target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.act, snap, now)
			if res.Allowed {
				t.Fatalf("expected deny, got allow")
			}
			if !strings.Contains(res.Reason, tt.reason) {
				t.Errorf("reason %q does not contain %q", res.Reason, tt.reason)
			}
		})
	}
}

func TestValidateFailsClosedWithoutDocument(t *testing.T) {
	res := Validate(action("10.0.5.10"), nil, time.Now())
	if res.Allowed {
		t.Fatal("nil snapshot must deny")
	}
	if !strings.Contains(res.Reason, "no rules of engagement") {
		t.Errorf("unexpected reason: %s", res.Reason)
	}
}

func TestValidateDeniesOutsideWindow(t *testing.T) {
	doc := `
engagement: windowed
aggression: low
allowed_targets: [10.0.5.0/24]
effective_from: 2026-08-01T00:00:00Z
expires_at: 2026-08-08T00:00:00Z
`
	snap, err := roe.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	after, _ := time.Parse(time.RFC3339, "2026-08-09T00:00:00Z")
	res := Validate(action("10.0.5.10"), snap, after)
	if res.Allowed {
		t.Fatal("expired document must deny")
	}

	during, _ := time.Parse(time.RFC3339, "2026-08-04T00:00:00Z")
	res = Validate(action("10.0.5.10"), snap, during)
	if !res.Allowed {
		t.Fatalf("expected allow inside window, got: %s", res.Reason)
	}
}

func TestViolationSignal(t *testing.T) {
	snap := testSnap(t)
	now := time.Now().UTC()
	act := action("10.99.0.1")
	res := Validate(act, snap, now)
	if res.Allowed {
		t.Fatal("expected deny")
	}

	sig := ViolationSignal("sig-1", act, res, now)
	if sig.Type != model.SignalScopeViolation {
		t.Errorf("expected scope_violation type, got %s", sig.Type)
	}
	if sig.AgentID != "scout-1" {
		t.Errorf("expected agent scout-1, got %s", sig.AgentID)
	}
	if sig.Payload["target"] != "10.99.0.1" {
		t.Errorf("expected target in payload, got %v", sig.Payload["target"])
	}
	if sig.Payload["reason"] != res.Reason {
		t.Error("expected deny reason in payload")
	}
}
