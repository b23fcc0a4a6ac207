package similarity

import (
	"github.com/itsneelabh/workforce/core"
)

const (
	DefaultSimilarityThreshold = 0.9
	DefaultStableRatio         = 0.8
)

// Verdict is the outcome of comparing two consecutive rounds.
type Verdict struct {
	Compared  int                `json:"compared"`
	Stable    int                `json:"stable"`
	Ratio     float64            `json:"ratio"`
	Converged bool               `json:"converged"`
	Scores    map[string]float64 `json:"scores,omitempty"`
}

// Detector decides whether a collaborative session has stabilized. Each
// worker's current result is compared only with its own previous result.
type Detector struct {
	similarityThreshold float64
	stableRatio         float64
	score               func(a, b core.Result) float64
}

// NewDetector returns a detector. Non-positive arguments select the defaults.
func NewDetector(similarityThreshold, stableRatio float64) *Detector {
	if similarityThreshold <= 0 {
		similarityThreshold = DefaultSimilarityThreshold
	}
	if stableRatio <= 0 {
		stableRatio = DefaultStableRatio
	}
	return &Detector{
		similarityThreshold: similarityThreshold,
		stableRatio:         stableRatio,
		score:               Score,
	}
}

// Evaluate compares the previous and current rounds. Workers that did not
// contribute to both rounds are not compared. With nothing to compare the
// rounds are never considered converged.
func (d *Detector) Evaluate(previous, current []core.Contribution) Verdict {
	prior := make(map[string]core.Result, len(previous))
	for _, c := range previous {
		prior[c.WorkerID] = c.Result
	}

	v := Verdict{Scores: make(map[string]float64)}
	for _, c := range current {
		before, ok := prior[c.WorkerID]
		if !ok {
			continue
		}
		s := d.score(before, c.Result)
		v.Scores[c.WorkerID] = s
		v.Compared++
		if s >= d.similarityThreshold {
			v.Stable++
		}
	}

	if v.Compared > 0 {
		v.Ratio = float64(v.Stable) / float64(v.Compared)
		v.Converged = v.Ratio >= d.stableRatio
	}
	return v
}
