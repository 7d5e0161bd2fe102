// Package authz is the authorization gate for sensitive actions. Each
// sensitive ActionRequest gets exactly one live AuthorizationRequest; state
// moves forward only (PENDING to APPROVED, DENIED, or EXPIRED) and EXPIRED
// is terminal. Expiry is a polled background sweep, never action-blocking.
package authz

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// State is the lifecycle position of an authorization request.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateDenied   State = "denied"
	StateExpired  State = "expired"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateDenied || s == StateExpired
}

// ErrAlreadyResolved is returned for a decision on a resolved request. The
// caller logs it as a conflict; the stored decision is untouched.
var ErrAlreadyResolved = errors.New("authz: request already resolved")

// Request is one authorization request, persisted as a JSON file keyed by
// the action ID it references.
type Request struct {
	ActionID  string     `json:"action_id"`
	AgentID   string     `json:"agent_id"`
	Target    string     `json:"target"`
	Tool      string     `json:"tool"`
	State     State      `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	Deadline  time.Time  `json:"deadline"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	DecidedBy string     `json:"decided_by,omitempty"`

	// Conflicts counts decisions that arrived after resolution and were
	// ignored.
	Conflicts int `json:"conflicts,omitempty"`
}

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("action id must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("action id must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("action id contains invalid characters")
	}
	return nil
}

// Store persists authorization requests as atomic JSON files.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("authz: create store directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default authorization store directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "swarmgate-authz")
	}
	return filepath.Join(home, ".swarmgate", "authz")
}

// Create persists a new pending request. If a request for the action ID
// already exists it is returned unchanged: concurrent submissions for the
// same action are deduplicated to at most one live request.
func (s *Store) Create(req Request) (*Request, bool, error) {
	if err := validateKey(req.ActionID); err != nil {
		return nil, false, fmt.Errorf("authz: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.read(req.ActionID); err == nil {
		return existing, false, nil
	}

	req.State = StatePending
	if err := s.writeAtomic(req); err != nil {
		return nil, false, err
	}
	return &req, true, nil
}

// Get returns the request for an action ID.
func (s *Store) Get(actionID string) (*Request, error) {
	if err := validateKey(actionID); err != nil {
		return nil, fmt.Errorf("authz: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req, err := s.read(actionID)
	if err != nil {
		return nil, fmt.Errorf("authz: request %q not found", actionID)
	}
	return req, nil
}

// Decide resolves a pending request exactly once. A decision against an
// already-resolved request returns ErrAlreadyResolved and bumps the conflict
// counter so the duplicate is visible in the audit trail.
func (s *Store) Decide(actionID string, to State, decidedBy string, now time.Time) (*Request, error) {
	if to != StateApproved && to != StateDenied {
		return nil, fmt.Errorf("authz: invalid decision state %q", to)
	}
	if err := validateKey(actionID); err != nil {
		return nil, fmt.Errorf("authz: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.read(actionID)
	if err != nil {
		return nil, fmt.Errorf("authz: request %q not found", actionID)
	}

	if req.State.Terminal() {
		req.Conflicts++
		if err := s.writeAtomic(*req); err != nil {
			return nil, err
		}
		return req, ErrAlreadyResolved
	}

	req.State = to
	t := now.UTC()
	req.DecidedAt = &t
	req.DecidedBy = decidedBy

	if err := s.writeAtomic(*req); err != nil {
		return nil, err
	}
	return req, nil
}

// ExpireDue transitions every pending request past its deadline to EXPIRED
// and returns the requests that transitioned on this sweep. EXPIRED is
// terminal and irreversible; a request expires exactly once.
func (s *Store) ExpireDue(now time.Time) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.list()
	if err != nil {
		return nil, err
	}

	var expired []Request
	for _, req := range all {
		if req.State != StatePending || now.Before(req.Deadline) {
			continue
		}
		req.State = StateExpired
		t := now.UTC()
		req.DecidedAt = &t
		if err := s.writeAtomic(req); err != nil {
			return expired, err
		}
		expired = append(expired, req)
	}
	return expired, nil
}

// List returns all stored requests.
func (s *Store) List() ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

// Pending returns all unresolved requests.
func (s *Store) Pending() ([]Request, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var pending []Request
	for _, req := range all {
		if req.State == StatePending {
			pending = append(pending, req)
		}
	}
	return pending, nil
}

func (s *Store) list() ([]Request, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var reqs []Request
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		req, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		reqs = append(reqs, *req)
	}
	return reqs, nil
}

func (s *Store) path(actionID string) string {
	return filepath.Join(s.dir, actionID+".json")
}

func (s *Store) read(actionID string) (*Request, error) {
	data, err := os.ReadFile(s.path(actionID))
	if err != nil {
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Store) writeAtomic(req Request) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path(req.ActionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(req.ActionID))
}
