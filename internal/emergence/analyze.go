package emergence

import (
	"fmt"
	"sort"

	"github.com/ppiankov/swarmgate/internal/model"
)

// Policy thresholds. Reported as pass/fail booleans; enforcement is an
// external CI concern, not the analyzer's.
const (
	ScoreThreshold = 0.20
	DepthThreshold = 3
)

// Analysis is the emergence report for one isolated/coordinated run pair.
type Analysis struct {
	IsolatedPaths    []string `json:"isolated_paths"`
	CoordinatedPaths []string `json:"coordinated_paths"`
	NovelChains      []string `json:"novel_chains"`

	// Score is |novel| / |coordinated|. Undefined (not zero) when the
	// coordinated path set is empty; check ScoreDefined before reading it.
	Score        float64 `json:"score"`
	ScoreDefined bool    `json:"score_defined"`

	// MaxDepth is the deepest coordinated chain, in hops.
	MaxDepth int `json:"max_depth"`

	// Gate booleans. Informational only.
	ScoreGatePass bool `json:"score_gate_pass"`
	DepthGatePass bool `json:"depth_gate_pass"`

	// TaintedRecords counts coordinated-run records with missing decision
	// context. Non-zero taints the metrics above.
	TaintedRecords int `json:"tainted_records"`
}

// Analyze computes the emergence report from two decision-record datasets
// covering otherwise-equivalent runs.
func Analyze(isolated, coordinated []model.DecisionRecord) Analysis {
	isoPaths := ExtractPaths(isolated)
	coPaths := ExtractPaths(coordinated)

	var novel []string
	maxDepth := 0
	for key, p := range coPaths {
		if _, ok := isoPaths[key]; !ok {
			novel = append(novel, key)
		}
		if p.Depth() > maxDepth {
			maxDepth = p.Depth()
		}
	}
	sort.Strings(novel)

	tainted := 0
	for _, rec := range coordinated {
		if rec.Tainted || len(rec.DecisionContext) == 0 {
			tainted++
		}
	}

	a := Analysis{
		IsolatedPaths:    sortedKeys(isoPaths),
		CoordinatedPaths: sortedKeys(coPaths),
		NovelChains:      novel,
		MaxDepth:         maxDepth,
		DepthGatePass:    maxDepth >= DepthThreshold,
		TaintedRecords:   tainted,
	}

	if len(coPaths) > 0 {
		a.Score = float64(len(novel)) / float64(len(coPaths))
		a.ScoreDefined = true
		a.ScoreGatePass = a.Score > ScoreThreshold
	}

	return a
}

// ScoreString renders the score for reports: a number when defined, "N/A"
// when the coordinated path set was empty.
func (a Analysis) ScoreString() string {
	if !a.ScoreDefined {
		return "N/A"
	}
	return fmt.Sprintf("%.3f", a.Score)
}

func sortedKeys(m map[string]Path) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
