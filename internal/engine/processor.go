// Package engine turns pixel events into updated visitor state and scoring
// responses.
package engine

import (
	"strings"
	"time"

	"github.com/mikeusry/southland-platform-sub000/internal/extract"
	"github.com/mikeusry/southland-platform-sub000/internal/models"
	"github.com/mikeusry/southland-platform-sub000/internal/persona"
	"github.com/mikeusry/southland-platform-sub000/internal/stage"
)

// DefaultMaxSignals bounds the rolling signal window per visitor.
const DefaultMaxSignals = 100

// ProcessorConfig tunes a Processor. Zero values select defaults.
type ProcessorConfig struct {
	MaxSignals      int
	MaxStageHistory int
	Rules           *extract.Rules
	Now             func() time.Time
}

// Processor applies one event to one visitor. It holds no per-visitor state and is
// safe for concurrent use.
type Processor struct {
	extractor  *extract.Extractor
	scorer     *persona.Scorer
	detector   *stage.Detector
	maxSignals int
	now        func() time.Time
}

// NewProcessor builds a processor from cfg.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.MaxSignals <= 0 {
		cfg.MaxSignals = DefaultMaxSignals
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	rules := cfg.Rules
	if rules == nil {
		rules = extract.DefaultRules()
	}
	return &Processor{
		extractor:  extract.New(rules),
		scorer:     persona.NewScorer(cfg.Now),
		detector:   stage.NewDetector(cfg.MaxStageHistory, cfg.Now),
		maxSignals: cfg.MaxSignals,
		now:        cfg.Now,
	}
}

// Process applies evt to current, which may be nil for an unseen visitor. current is
// never mutated; the updated copy is returned with the compact response.
func (p *Processor) Process(evt models.PixelEvent, current *models.VisitorData) (*models.VisitorData, models.ScoringResponse) {
	v, resp, _ := p.process(evt, current)
	return v, resp
}

func (p *Processor) process(evt models.PixelEvent, current *models.VisitorData) (*models.VisitorData, models.ScoringResponse, []models.Signal) {
	now := p.now()

	var v *models.VisitorData
	if current == nil {
		v = models.NewVisitor(evt.AnonymousID, now)
	} else {
		v = current.Clone()
	}

	var added []models.Signal
	if current != nil && isReturnVisit(evt.SessionID, v.LastSessionID) {
		added = append(added, models.Signal{
			Type:      models.SignalReturnVisit,
			Value:     evt.SessionID,
			Timestamp: evt.Time(now),
			Metadata:  map[string]string{models.MetaSourceEvent: evt.Event},
		})
	}
	added = append(added, p.extractor.Extract(evt, now)...)

	if evt.SessionID != "" {
		v.LastSessionID = evt.SessionID
	}
	if evt.CustomerID != "" {
		v.CustomerID = evt.CustomerID
	}
	if evt.Email != "" {
		v.Email = evt.Email
	}

	v.Signals = appendCapped(v.Signals, added, p.maxSignals)
	v.TotalSignals += len(added)
	v.SessionCount++

	if evt.Name() == models.EventPersonaSelected {
		if choice := models.PersonaID(strings.ToLower(evt.Prop("persona"))); choice.Valid() {
			v.ExplicitPersona = choice
		}
	}

	v.PersonaScores = p.scorer.Score(v)
	v.PredictedPersona = persona.Predict(v.PersonaScores)
	v.PersonaConfidence = persona.Confidence(v.PersonaScores)

	p.detector.Apply(v)
	v.LastUpdated = now

	return v, Response(v), added
}

// Response builds the compact scoring response for v.
func Response(v *models.VisitorData) models.ScoringResponse {
	return models.ScoringResponse{
		Success:           true,
		VisitorID:         v.AnonymousID,
		Persona:           persona.EffectivePersona(v),
		PersonaConfidence: v.PersonaConfidence,
		Stage:             v.CurrentStage,
		StageConfidence:   v.StageConfidence,
		ExplicitChoice:    v.ExplicitPersona,
	}
}

// isReturnVisit reports a session change. A visitor with no recorded session yet has
// nothing to return from.
func isReturnVisit(sessionID, lastSessionID string) bool {
	return sessionID != "" && lastSessionID != "" && sessionID != lastSessionID
}

// appendCapped appends added to window and evicts the oldest entries beyond max.
func appendCapped(window, added []models.Signal, max int) []models.Signal {
	window = append(window, added...)
	if over := len(window) - max; over > 0 {
		window = append([]models.Signal(nil), window[over:]...)
	}
	return window
}
