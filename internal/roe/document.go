// Package roe loads and validates Rules-of-Engagement documents. A document
// is immutable once loaded; replacing it goes through the Holder, which
// versions every reload. The scope validator works purely from a compiled
// snapshot and never touches the filesystem on the hot path.
package roe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/swarmgate/internal/model"
)

// Document is the on-disk Rules-of-Engagement format.
type Document struct {
	Engagement     string                `yaml:"engagement" json:"engagement"`
	Aggression     model.AggressionLevel `yaml:"aggression" json:"aggression"`
	EffectiveFrom  time.Time             `yaml:"effective_from" json:"effective_from"`
	ExpiresAt      time.Time             `yaml:"expires_at" json:"expires_at"`
	AllowedTargets []string              `yaml:"allowed_targets" json:"allowed_targets"` // IPs or CIDRs
	AllowedNames   []string              `yaml:"allowed_resources,omitempty" json:"allowed_resources,omitempty"`
	ForbiddenPorts []int                 `yaml:"forbidden_ports" json:"forbidden_ports"`
}

// Snapshot is a compiled, immutable view of a Document plus its provenance.
// All scope decisions during a run are made against a Snapshot.
type Snapshot struct {
	Doc      Document
	Hash     string // sha256 of the raw YAML bytes
	Version  int    // assigned by the Holder, monotonic per process
	LoadedAt time.Time

	prefixes  []netip.Prefix
	names     []string
	forbidden map[uint16]bool
}

// Load reads, parses, validates, and compiles an RoE document.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roe: read document: %w", err)
	}
	return Parse(data)
}

// Parse compiles raw YAML bytes into a Snapshot. Any malformed field is an
// error: a document that does not fully parse is not a document at all, and
// the validator denies everything until a good one is loaded.
func Parse(data []byte) (*Snapshot, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("roe: parse document: %w", err)
	}

	snap := &Snapshot{
		Doc:      doc,
		Hash:     hashBytes(data),
		LoadedAt: time.Now().UTC(),
	}
	if err := snap.compile(); err != nil {
		return nil, err
	}
	return snap, nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

func (s *Snapshot) compile() error {
	doc := s.Doc

	if doc.Engagement == "" {
		return fmt.Errorf("roe: engagement name is required")
	}

	switch doc.Aggression {
	case model.AggressionLow, model.AggressionMedium, model.AggressionHigh:
	default:
		return fmt.Errorf("roe: unknown aggression level %q", doc.Aggression)
	}

	// Invariant: the allowed-target set is never empty during an active run.
	if len(doc.AllowedTargets) == 0 && len(doc.AllowedNames) == 0 {
		return fmt.Errorf("roe: allowed target set must not be empty")
	}

	for _, t := range doc.AllowedTargets {
		p, err := parsePrefix(t)
		if err != nil {
			return fmt.Errorf("roe: allowed target %q: %w", t, err)
		}
		s.prefixes = append(s.prefixes, p)
	}

	for _, n := range doc.AllowedNames {
		if strings.TrimSpace(n) == "" {
			return fmt.Errorf("roe: empty allowed resource pattern")
		}
		s.names = append(s.names, n)
	}

	s.forbidden = make(map[uint16]bool, len(doc.ForbiddenPorts))
	for _, p := range doc.ForbiddenPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("roe: forbidden port %d out of range", p)
		}
		s.forbidden[uint16(p)] = true
	}

	if !doc.ExpiresAt.IsZero() && !doc.EffectiveFrom.IsZero() && !doc.ExpiresAt.After(doc.EffectiveFrom) {
		return fmt.Errorf("roe: expires_at must be after effective_from")
	}

	return nil
}

// parsePrefix accepts either a bare IP (treated as a /32 or /128) or a CIDR.
func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// ActiveAt reports whether the document is in force at the given instant.
func (s *Snapshot) ActiveAt(now time.Time) bool {
	if !s.Doc.EffectiveFrom.IsZero() && now.Before(s.Doc.EffectiveFrom) {
		return false
	}
	if !s.Doc.ExpiresAt.IsZero() && !now.Before(s.Doc.ExpiresAt) {
		return false
	}
	return true
}

// AllowsAddr reports whether the address is inside the allowed target set.
func (s *Snapshot) AllowsAddr(addr netip.Addr) bool {
	for _, p := range s.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// AllowsName reports whether a non-IP resource matches an allowed pattern.
func (s *Snapshot) AllowsName(name string) bool {
	for _, pattern := range s.names {
		if MatchPattern(pattern, name) {
			return true
		}
	}
	return false
}

// PortForbidden reports whether the port is in the forbidden set.
func (s *Snapshot) PortForbidden(port uint16) bool {
	return s.forbidden[port]
}

// MatchPattern checks if a value matches a glob-like pattern.
// Supports: *x* (contains), *.ext (suffix), prefix* (prefix), exact match.
// Matching is case-insensitive.
func MatchPattern(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	lowerValue := strings.ToLower(value)
	lowerPattern := strings.ToLower(pattern)

	if strings.HasPrefix(lowerPattern, "*") && strings.HasSuffix(lowerPattern, "*") {
		inner := lowerPattern[1 : len(lowerPattern)-1]
		return strings.Contains(lowerValue, inner)
	}

	if strings.HasPrefix(lowerPattern, "*") {
		return strings.HasSuffix(lowerValue, lowerPattern[1:])
	}

	if strings.HasSuffix(lowerPattern, "*") {
		return strings.HasPrefix(lowerValue, lowerPattern[:len(lowerPattern)-1])
	}

	return lowerValue == lowerPattern
}
