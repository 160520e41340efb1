package patch

import (
	"fmt"
	"strings"
)

// DriftClassifier decides whether a phase's description has drifted from its
// declared goal anchor. Callers only consult it when an anchor exists.
type DriftClassifier interface {
	Check(goal, description string) (block bool, reason string)
}

// HeuristicDrift blocks when almost none of the goal's significant tokens
// appear in the phase description.
type HeuristicDrift struct{}

const driftMinOverlap = 0.2

// Check tokenizes both texts and measures goal-token coverage.
func (HeuristicDrift) Check(goal, description string) (bool, string) {
	goalTokens := significantTokens(goal)
	if len(goalTokens) < 3 {
		return false, ""
	}
	descSet := make(map[string]struct{})
	for _, tok := range significantTokens(description) {
		descSet[tok] = struct{}{}
	}
	matched := 0
	for _, tok := range goalTokens {
		if _, ok := descSet[tok]; ok {
			matched++
		}
	}
	overlap := float64(matched) / float64(len(goalTokens))
	if overlap < driftMinOverlap {
		return true, fmt.Sprintf("goal drift detected: description shares %d of %d goal terms", matched, len(goalTokens))
	}
	return false, ""
}

func significantTokens(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,:;!?()[]{}\"'`")
		if len(f) < 4 {
			continue
		}
		out = append(out, f)
	}
	return out
}
