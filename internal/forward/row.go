// Package forward relays enriched events to the analytics sink without blocking the
// request path.
package forward

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mikeusry/southland-platform-sub000/internal/models"
)

// Row is one flat analytics record: the raw event plus the scoring outcome.
type Row struct {
	RowID string `json:"row_id"`

	Event       string `json:"event"`
	AnonymousID string `json:"anonymous_id"`
	CustomerID  string `json:"customer_id,omitempty"`
	Email       string `json:"email,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Timestamp   string `json:"timestamp"`
	PageURL     string `json:"page_url,omitempty"`
	PageTitle   string `json:"page_title,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	Properties  string `json:"properties"`

	PredictedPersona  models.PersonaID    `json:"predicted_persona"`
	PersonaConfidence float64             `json:"persona_confidence"`
	ExplicitPersona   models.PersonaID    `json:"explicit_persona,omitempty"`
	CurrentStage      models.JourneyStage `json:"current_stage"`
	StageConfidence   float64             `json:"stage_confidence"`
	PersonaScores     string              `json:"persona_scores"`

	FirstSeen    string `json:"first_seen"`
	SessionCount int    `json:"session_count"`
	TotalSignals int    `json:"total_signals"`

	ProcessedAt string `json:"processed_at"`
	Brand       string `json:"brand"`
}

// BuildRow flattens evt and the post-update visitor into a Row. Nested values are
// serialized to JSON strings so the sink can store them in a single column.
func BuildRow(evt models.PixelEvent, v *models.VisitorData, brand string, now time.Time) Row {
	props := "{}"
	if len(evt.Properties) > 0 {
		if b, err := json.Marshal(evt.Properties); err == nil {
			props = string(b)
		}
	}
	scores, _ := json.Marshal(v.PersonaScores)

	ts := evt.Timestamp
	if ts == "" {
		ts = now.UTC().Format(time.RFC3339Nano)
	}

	return Row{
		RowID:       uuid.NewString(),
		Event:       evt.Event,
		AnonymousID: evt.AnonymousID,
		CustomerID:  evt.CustomerID,
		Email:       evt.Email,
		SessionID:   evt.SessionID,
		Timestamp:   ts,
		PageURL:     evt.PageURL,
		PageTitle:   evt.PageTitle,
		Referrer:    evt.Referrer,
		UTMSource:   evt.UTMSource,
		UTMMedium:   evt.UTMMedium,
		UTMCampaign: evt.UTMCampaign,
		UTMTerm:     evt.UTMTerm,
		UTMContent:  evt.UTMContent,
		Properties:  props,

		PredictedPersona:  v.PredictedPersona,
		PersonaConfidence: v.PersonaConfidence,
		ExplicitPersona:   v.ExplicitPersona,
		CurrentStage:      v.CurrentStage,
		StageConfidence:   v.StageConfidence,
		PersonaScores:     string(scores),

		FirstSeen:    v.FirstSeen.UTC().Format(time.RFC3339Nano),
		SessionCount: v.SessionCount,
		TotalSignals: v.TotalSignals,

		ProcessedAt: now.UTC().Format(time.RFC3339Nano),
		Brand:       brand,
	}
}
