package authz

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func pendingReq(actionID string, deadline time.Time) Request {
	return Request{
		ActionID:  actionID,
		AgentID:   "scout-1",
		Target:    "10.0.5.10:445",
		Tool:      "smb_exploit",
		CreatedAt: deadline.Add(-24 * time.Hour),
		Deadline:  deadline,
	}
}

func TestCreateDeduplicates(t *testing.T) {
	s := newTestStore(t)
	deadline := time.Now().Add(24 * time.Hour)

	first, created, err := s.Create(pendingReq("act-1", deadline))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !created {
		t.Fatal("expected first Create to report created")
	}
	if first.State != StatePending {
		t.Errorf("expected pending, got %s", first.State)
	}

	dup := pendingReq("act-1", deadline.Add(time.Hour))
	dup.AgentID = "other"
	second, created, err := s.Create(dup)
	if err != nil {
		t.Fatalf("duplicate Create failed: %v", err)
	}
	if created {
		t.Error("duplicate Create must not report created")
	}
	if second.AgentID != "scout-1" {
		t.Errorf("duplicate must return the original request, got agent %s", second.AgentID)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	created := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	req := Request{
		ActionID:  "act-9",
		AgentID:   "scout-3",
		Target:    "10.0.5.40:445",
		Tool:      "smb_exploit",
		CreatedAt: created,
		Deadline:  created.Add(24 * time.Hour),
	}
	if _, _, err := s.Create(req); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := s.Get("act-9")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	req.State = StatePending
	if !reflect.DeepEqual(*got, req) {
		t.Errorf("persisted request changed on reload:\n  in:  %+v\n  out: %+v", req, *got)
	}

	decidedAt := created.Add(time.Hour)
	if _, err := s.Decide("act-9", StateApproved, "op-7", decidedAt); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	got, err = s.Get("act-9")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != StateApproved || got.DecidedBy != "op-7" {
		t.Errorf("decision fields lost on reload: %+v", got)
	}
	if got.DecidedAt == nil || !got.DecidedAt.Equal(decidedAt) {
		t.Errorf("expected decided_at %s, got %v", decidedAt, got.DecidedAt)
	}
}

func TestCreateRejectsBadActionID(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", "../escape", "has space", "slash/y"} {
		if _, _, err := s.Create(pendingReq(id, time.Now())); err == nil {
			t.Errorf("expected error for action id %q", id)
		}
	}
}

func TestDecideExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	s.Create(pendingReq("act-1", now.Add(time.Hour)))

	req, err := s.Decide("act-1", StateApproved, "operator-a", now)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if req.State != StateApproved || req.DecidedBy != "operator-a" {
		t.Errorf("unexpected resolution: %+v", req)
	}
	if req.DecidedAt == nil {
		t.Error("expected DecidedAt to be set")
	}

	// A second decision must not change the stored outcome.
	req, err = s.Decide("act-1", StateDenied, "operator-b", now)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if req.State != StateApproved {
		t.Errorf("conflicting decision changed state to %s", req.State)
	}
	if req.Conflicts != 1 {
		t.Errorf("expected 1 recorded conflict, got %d", req.Conflicts)
	}

	stored, _ := s.Get("act-1")
	if stored.DecidedBy != "operator-a" {
		t.Errorf("stored decision changed: %+v", stored)
	}
}

func TestDecideRejectsInvalidState(t *testing.T) {
	s := newTestStore(t)
	s.Create(pendingReq("act-1", time.Now().Add(time.Hour)))
	if _, err := s.Decide("act-1", StateExpired, "op", time.Now()); err == nil {
		t.Error("expected error for decision to expired")
	}
	if _, err := s.Decide("missing", StateApproved, "op", time.Now()); err == nil {
		t.Error("expected error for unknown request")
	}
}

func TestExpireDueExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	s.Create(pendingReq("overdue", now.Add(-time.Minute)))
	s.Create(pendingReq("fresh", now.Add(time.Hour)))

	expired, err := s.ExpireDue(now)
	if err != nil {
		t.Fatalf("ExpireDue failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ActionID != "overdue" {
		t.Fatalf("expected [overdue], got %+v", expired)
	}
	if expired[0].State != StateExpired {
		t.Errorf("expected expired state, got %s", expired[0].State)
	}

	// Second sweep: already-expired requests do not transition again.
	expired, err = s.ExpireDue(now)
	if err != nil {
		t.Fatalf("second ExpireDue failed: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("expected no transitions on second sweep, got %+v", expired)
	}

	// Expired is terminal: a late decision is a conflict.
	if _, err := s.Decide("overdue", StateApproved, "op", now); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved on expired request, got %v", err)
	}
}

func TestPendingListsOnlyUnresolved(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	s.Create(pendingReq("p1", now.Add(time.Hour)))
	s.Create(pendingReq("p2", now.Add(time.Hour)))
	s.Create(pendingReq("resolved", now.Add(time.Hour)))
	s.Decide("resolved", StateDenied, "op", now)

	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending, got %d", len(pending))
	}
	all, _ := s.List()
	if len(all) != 3 {
		t.Errorf("expected 3 total, got %d", len(all))
	}
}

func TestStateTerminal(t *testing.T) {
	if StatePending.Terminal() {
		t.Error("pending must not be terminal")
	}
	for _, s := range []State{StateApproved, StateDenied, StateExpired} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}
