// Package persona computes the persona probability distribution for a visitor from
// its signal window.
package persona

import (
	"time"

	"github.com/mikeusry/southland-platform-sub000/internal/models"
)

// MinSignals is the history size below which behavioral scoring is skipped.
const MinSignals = 3

// Explicit-choice skew used while history is too short to score.
const (
	explicitShare = 0.70
	otherShare    = 0.10
)

// explicitBoost multiplies the explicitly chosen persona's bucket before normalizing.
const explicitBoost = 2.0

// SignalWeights reflects the intent strength of each signal type.
var SignalWeights = map[models.SignalType]float64{
	models.SignalDecisionEngine:    10,
	models.SignalPurchase:          8,
	models.SignalPhoneCall:         7,
	models.SignalAddToCart:         6,
	models.SignalSurveyResponse:    6,
	models.SignalSearchQuery:       5,
	models.SignalProductView:       4,
	models.SignalCollectionView:    3,
	models.SignalContentEngagement: 3,
	models.SignalEmailSignup:       2,
	models.SignalReturnVisit:       2,
	models.SignalPageView:          1,
}

// recencyStep is one step of the recency multiplier table.
type recencyStep struct {
	maxAge     time.Duration
	multiplier float64
}

var recencySteps = []recencyStep{
	{maxAge: time.Hour, multiplier: 1.5},
	{maxAge: 24 * time.Hour, multiplier: 1.0},
	{maxAge: 72 * time.Hour, multiplier: 0.7},
}

const staleMultiplier = 0.3

// Scorer scores visitors against a clock.
type Scorer struct {
	now func() time.Time
}

// NewScorer creates a scorer. A nil clock uses time.Now.
func NewScorer(now func() time.Time) *Scorer {
	if now == nil {
		now = time.Now
	}
	return &Scorer{now: now}
}

// Score returns the normalized persona distribution for v.
func (s *Scorer) Score(v *models.VisitorData) models.PersonaScores {
	explicit := v.ExplicitPersona

	if len(v.Signals) < MinSignals {
		if explicit.Valid() {
			return skewed(explicit)
		}
		return models.DefaultPersonaScores()
	}

	now := s.now()
	var raw models.PersonaScores
	for _, sig := range v.Signals {
		p, ok := sig.Persona()
		if !ok {
			continue
		}
		raw.Set(p, raw.Get(p)+Weight(sig.Type)*Recency(now.Sub(sig.Timestamp)))
	}

	if explicit.Valid() && explicit != models.PersonaGeneral {
		raw.Set(explicit, raw.Get(explicit)*explicitBoost)
	}

	return raw.Normalized()
}

// Weight returns the intent weight for a signal type; unknown types weigh zero.
func Weight(t models.SignalType) float64 {
	return SignalWeights[t]
}

// Recency returns the step multiplier for a signal of the given age. Signals dated in
// the future count as fresh.
func Recency(age time.Duration) float64 {
	for _, step := range recencySteps {
		if age <= step.maxAge {
			return step.multiplier
		}
	}
	return staleMultiplier
}

// Predict returns the most likely persona, breaking ties by enumeration order.
func Predict(scores models.PersonaScores) models.PersonaID {
	best := models.Personas[0]
	for _, p := range models.Personas[1:] {
		if scores.Get(p) > scores.Get(best) {
			best = p
		}
	}
	return best
}

// Confidence rewards both a decisive gap and a high peak:
// 0.6*(top1-top2) + 0.4*top1, clamped to [0,1].
func Confidence(scores models.PersonaScores) float64 {
	var top1, top2 float64
	for _, p := range models.Personas {
		v := scores.Get(p)
		switch {
		case v > top1:
			top1, top2 = v, top1
		case v > top2:
			top2 = v
		}
	}
	return clamp(0.6*(top1-top2) + 0.4*top1)
}

// EffectivePersona is the persona downstream consumers should treat as canonical.
func EffectivePersona(v *models.VisitorData) models.PersonaID {
	return v.EffectivePersona()
}

func skewed(explicit models.PersonaID) models.PersonaScores {
	var s models.PersonaScores
	for _, p := range models.Personas {
		if p == explicit {
			s.Set(p, explicitShare)
		} else {
			s.Set(p, otherShare)
		}
	}
	return s.Normalized()
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
