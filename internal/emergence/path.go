// Package emergence compares decision evidence from an isolated and a
// coordinated run and quantifies how much attack behavior only appeared
// when agents could share signals.
package emergence

import (
	"sort"
	"strings"

	"github.com/ppiankov/swarmgate/internal/model"
)

// MaxChainDepth bounds path extraction. Producers are expected to be
// acyclic, but the walk carries cycle protection and a depth cap anyway.
const MaxChainDepth = 32

// Hop is one action in a causal chain.
type Hop struct {
	Target string
	Tool   string
}

// Path is an ordered causal chain of actions. A later action joins the
// chain when its decision_context references a signal emitted by the
// previous action.
type Path []Hop

// Depth is the number of hops in the chain.
func (p Path) Depth() int { return len(p) }

// Canonical renders the path for set comparison. Agent identity and
// timestamps are deliberately excluded: emergence is scored on what the
// collective did (target and technique sequence), not on which agent did
// each step, so the same chain run by two different agents is one path.
func (p Path) Canonical() string {
	parts := make([]string, len(p))
	for i, h := range p {
		parts[i] = h.Target + "|" + h.Tool
	}
	return strings.Join(parts, " -> ")
}

// ExtractPaths derives the set of distinct maximal causal chains from a
// run's decision records, keyed by canonical form. A record nothing links
// to and that links to nothing is a depth-1 chain of its own.
func ExtractPaths(records []model.DecisionRecord) map[string]Path {
	n := len(records)
	if n == 0 {
		return map[string]Path{}
	}

	// Map each emitted signal to the record that produced it.
	producer := make(map[string]int)
	for i, rec := range records {
		for _, sig := range rec.EmittedSignals {
			producer[sig] = i
		}
	}

	// Edge i -> j where record j consulted a signal record i emitted.
	next := make(map[int][]int, n)
	hasParent := make([]bool, n)
	for j, rec := range records {
		seen := make(map[int]bool)
		for _, sig := range rec.DecisionContext {
			i, ok := producer[sig]
			if !ok || i == j || seen[i] {
				continue
			}
			seen[i] = true
			next[i] = append(next[i], j)
			hasParent[j] = true
		}
	}
	for i := range next {
		sort.Ints(next[i])
	}

	paths := make(map[string]Path)
	onPath := make([]bool, n)

	var walk func(node int, chain []int)
	walk = func(node int, chain []int) {
		chain = append(chain, node)
		onPath[node] = true
		defer func() { onPath[node] = false }()

		extended := false
		if len(chain) < MaxChainDepth {
			for _, child := range next[node] {
				if onPath[child] {
					continue // cycle guard
				}
				extended = true
				walk(child, chain)
			}
		}

		if !extended {
			p := make(Path, len(chain))
			for i, idx := range chain {
				p[i] = Hop{Target: records[idx].Target, Tool: records[idx].Tool}
			}
			paths[p.Canonical()] = p
		}
	}

	// Maximal chains start at records no other record feeds into.
	for i := 0; i < n; i++ {
		if !hasParent[i] {
			walk(i, nil)
		}
	}

	// A fully cyclic component has no root; walk it from every node so its
	// records still surface as paths.
	if len(paths) == 0 {
		for i := 0; i < n; i++ {
			walk(i, nil)
		}
	}

	return paths
}
