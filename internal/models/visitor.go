// Package models holds the domain types shared by the scoring engine, the visitor
// store and the HTTP surface.
package models

import "time"

// JourneyStage is a funnel position describing readiness to purchase.
type JourneyStage string

const (
	StageUnaware    JourneyStage = "unaware"
	StageAware      JourneyStage = "aware"
	StageReceptive  JourneyStage = "receptive"
	StageZMOT       JourneyStage = "zmot"
	StageObjections JourneyStage = "objections"
	StageTestPrep   JourneyStage = "test_prep"
	StageChallenge  JourneyStage = "challenge"
	StageSuccess    JourneyStage = "success"
	StageCommitment JourneyStage = "commitment"
	StageEvangelist JourneyStage = "evangelist"
)

// StageEntry records when a visitor entered a stage.
type StageEntry struct {
	Stage     JourneyStage `json:"stage"`
	EnteredAt time.Time    `json:"entered_at"`
}

// VisitorData is the per-visitor aggregate persisted in the visitor store.
type VisitorData struct {
	AnonymousID string `json:"anonymous_id"`
	CustomerID  string `json:"customer_id,omitempty"`
	Email       string `json:"email,omitempty"`

	Signals []Signal `json:"signals"`

	PersonaScores     PersonaScores `json:"persona_scores"`
	PredictedPersona  PersonaID     `json:"predicted_persona"`
	PersonaConfidence float64       `json:"persona_confidence"`
	ExplicitPersona   PersonaID     `json:"explicit_persona,omitempty"`

	CurrentStage    JourneyStage `json:"current_stage"`
	StageConfidence float64      `json:"stage_confidence"`
	StageHistory    []StageEntry `json:"stage_history"`

	FirstSeen     time.Time `json:"first_seen"`
	LastUpdated   time.Time `json:"last_updated"`
	LastSessionID string    `json:"last_session_id,omitempty"`

	// SessionCount is incremented once per processed event, not once per browsing
	// session. Downstream consumers read it with that meaning.
	SessionCount int `json:"session_count"`
	TotalSignals int `json:"total_signals"`
}

// NewVisitor returns a fresh visitor record with uniform persona scores.
func NewVisitor(anonymousID string, now time.Time) *VisitorData {
	return &VisitorData{
		AnonymousID:      anonymousID,
		Signals:          []Signal{},
		PersonaScores:    DefaultPersonaScores(),
		PredictedPersona: PersonaGeneral,
		CurrentStage:     StageUnaware,
		StageHistory:     []StageEntry{},
		FirstSeen:        now,
		LastUpdated:      now,
	}
}

// EffectivePersona returns the explicit choice when present, else the prediction.
func (v *VisitorData) EffectivePersona() PersonaID {
	if v.ExplicitPersona != "" {
		return v.ExplicitPersona
	}
	return v.PredictedPersona
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (v *VisitorData) Clone() *VisitorData {
	c := *v
	c.Signals = make([]Signal, len(v.Signals))
	for i, s := range v.Signals {
		c.Signals[i] = s
		if s.Metadata != nil {
			md := make(map[string]string, len(s.Metadata))
			for k, val := range s.Metadata {
				md[k] = val
			}
			c.Signals[i].Metadata = md
		}
	}
	c.StageHistory = append([]StageEntry(nil), v.StageHistory...)
	if c.StageHistory == nil {
		c.StageHistory = []StageEntry{}
	}
	return &c
}

// ScoringResponse is the compact per-event result returned to callers.
type ScoringResponse struct {
	Success           bool         `json:"success"`
	VisitorID         string       `json:"visitor_id"`
	Persona           PersonaID    `json:"persona,omitempty"`
	PersonaConfidence float64      `json:"persona_confidence"`
	Stage             JourneyStage `json:"stage,omitempty"`
	StageConfidence   float64      `json:"stage_confidence"`
	ExplicitChoice    PersonaID    `json:"explicit_choice,omitempty"`
	Error             string       `json:"error,omitempty"`
}
