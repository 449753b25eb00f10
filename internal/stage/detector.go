// Package stage classifies a visitor into a journey stage using an ordered list of
// priority rules over its signal window.
package stage

import (
	"strings"
	"time"

	"github.com/mikeusry/southland-platform-sub000/internal/models"
)

// DefaultMaxHistory is the number of stage transitions retained per visitor.
const DefaultMaxHistory = 10

// objectionPaths mark pages where visitors look for reasons not to buy.
var objectionPaths = []string{"/faq", "/contact", "/returns", "/guarantee", "/compare", "/vs"}

// contentPaths mark editorial pages.
var contentPaths = []string{"/blog", "/podcast"}

// Counts summarizes a signal window for rule evaluation.
type Counts struct {
	Total          int
	ByType         map[models.SignalType]int
	Reviews        int
	ObjectionViews int
	ContentViews   int
}

// Of returns the count for one signal type.
func (c Counts) Of(t models.SignalType) int {
	return c.ByType[t]
}

// Count tallies the signals a rule set looks at.
func Count(signals []models.Signal) Counts {
	c := Counts{Total: len(signals), ByType: make(map[models.SignalType]int)}
	for _, s := range signals {
		c.ByType[s.Type]++
		if s.IsReview() {
			c.Reviews++
		}
		if s.Type == models.SignalPageView {
			url := strings.ToLower(s.Value)
			if containsAny(url, objectionPaths) {
				c.ObjectionViews++
			}
			if containsAny(url, contentPaths) {
				c.ContentViews++
			}
		}
	}
	return c
}

// Rule pairs a stage with the predicate that selects it.
type Rule struct {
	Stage models.JourneyStage
	Match func(Counts) bool
	// Bonus is added to the base confidence when this rule wins.
	Bonus float64
}

// Confidence bonuses by stage tier.
const (
	bonusPurchase  = 0.4
	bonusTestPrep  = 0.3
	bonusResearch  = 0.2
	bonusAwareness = 0.1
)

// Rules is evaluated top to bottom; the first match wins. The final rule always
// matches.
var Rules = []Rule{
	{Stage: models.StageEvangelist, Bonus: bonusPurchase, Match: func(c Counts) bool {
		return c.Of(models.SignalPurchase) >= 3 && c.Reviews >= 1
	}},
	{Stage: models.StageCommitment, Bonus: bonusPurchase, Match: func(c Counts) bool {
		return c.Of(models.SignalPurchase) >= 2
	}},
	{Stage: models.StageSuccess, Bonus: bonusPurchase, Match: func(c Counts) bool {
		return c.Of(models.SignalPurchase) >= 1 && c.Of(models.SignalReturnVisit) >= 1
	}},
	{Stage: models.StageChallenge, Bonus: bonusPurchase, Match: func(c Counts) bool {
		return c.Of(models.SignalPurchase) == 1
	}},
	{Stage: models.StageTestPrep, Bonus: bonusTestPrep, Match: func(c Counts) bool {
		return c.Of(models.SignalAddToCart) >= 1 && c.Of(models.SignalPurchase) == 0
	}},
	{Stage: models.StageObjections, Bonus: bonusResearch, Match: func(c Counts) bool {
		return c.ObjectionViews >= 1
	}},
	{Stage: models.StageZMOT, Bonus: bonusResearch, Match: func(c Counts) bool {
		return c.Of(models.SignalProductView) >= 2 ||
			(c.Of(models.SignalSearchQuery) >= 1 && c.Of(models.SignalProductView) >= 1)
	}},
	{Stage: models.StageReceptive, Bonus: bonusAwareness, Match: func(c Counts) bool {
		return c.Of(models.SignalContentEngagement) >= 1 || c.ContentViews >= 2
	}},
	{Stage: models.StageAware, Bonus: bonusAwareness, Match: func(c Counts) bool {
		return c.Of(models.SignalProductView) >= 1 || c.Of(models.SignalCollectionView) >= 1
	}},
	{Stage: models.StageUnaware, Bonus: bonusAwareness, Match: func(Counts) bool {
		return true
	}},
}

// Result is the outcome of one detection pass.
type Result struct {
	Stage      models.JourneyStage
	Confidence float64
}

// Detector evaluates the rule list.
type Detector struct {
	rules      []Rule
	maxHistory int
	now        func() time.Time
}

// NewDetector creates a detector. maxHistory <= 0 selects DefaultMaxHistory and a nil
// clock uses time.Now.
func NewDetector(maxHistory int, now func() time.Time) *Detector {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if now == nil {
		now = time.Now
	}
	return &Detector{rules: Rules, maxHistory: maxHistory, now: now}
}

// Detect classifies v from its current signal window.
func (d *Detector) Detect(v *models.VisitorData) Result {
	c := Count(v.Signals)
	for _, r := range d.rules {
		if r.Match(c) {
			return Result{Stage: r.Stage, Confidence: confidence(c.Total, r.Bonus)}
		}
	}
	// Unreachable while the last rule is unconditional.
	return Result{Stage: models.StageUnaware, Confidence: confidence(c.Total, bonusAwareness)}
}

// Apply runs Detect and records the result on v, appending to the stage history only
// when the stage changed.
func (d *Detector) Apply(v *models.VisitorData) Result {
	res := d.Detect(v)
	v.StageHistory = d.UpdateHistory(v.StageHistory, res.Stage)
	v.CurrentStage = res.Stage
	v.StageConfidence = res.Confidence
	return res
}

// UpdateHistory appends stage when it differs from the last entry and trims the
// history to the most recent transitions.
func (d *Detector) UpdateHistory(history []models.StageEntry, stage models.JourneyStage) []models.StageEntry {
	if n := len(history); n > 0 && history[n-1].Stage == stage {
		return history
	}
	history = append(history, models.StageEntry{Stage: stage, EnteredAt: d.now()})
	if over := len(history) - d.maxHistory; over > 0 {
		history = append([]models.StageEntry(nil), history[over:]...)
	}
	return history
}

func confidence(signalCount int, bonus float64) float64 {
	base := float64(signalCount) / 10
	if base > 0.5 {
		base = 0.5
	}
	v := base + bonus
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
