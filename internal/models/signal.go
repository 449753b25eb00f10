package models

import "time"

// SignalType identifies the kind of behavioral observation.
type SignalType string

const (
	SignalPageView          SignalType = "page_view"
	SignalSearchQuery       SignalType = "search_query"
	SignalProductView       SignalType = "product_view"
	SignalCollectionView    SignalType = "collection_view"
	SignalAddToCart         SignalType = "add_to_cart"
	SignalPurchase          SignalType = "purchase"
	SignalEmailSignup       SignalType = "email_signup"
	SignalContentEngagement SignalType = "content_engagement"
	SignalDecisionEngine    SignalType = "decision_engine"
	SignalSurveyResponse    SignalType = "survey_response"
	SignalPhoneCall         SignalType = "phone_call"
	SignalReturnVisit       SignalType = "return_visit"
)

// Metadata keys carried on signals.
const (
	MetaDetectedPersona = "detected_persona"
	MetaContentType     = "content_type"
	MetaSourceEvent     = "source_event"
)

// ContentTypeReview tags a content_engagement signal as a product review.
const ContentTypeReview = "review"

// Signal is an atomic behavioral observation derived from one inbound event.
type Signal struct {
	Type      SignalType        `json:"type"`
	Value     string            `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Persona returns the persona hint attached to the signal, if any.
func (s Signal) Persona() (PersonaID, bool) {
	if s.Metadata == nil {
		return "", false
	}
	p := PersonaID(s.Metadata[MetaDetectedPersona])
	if !p.Valid() {
		return "", false
	}
	return p, true
}

// IsReview reports whether a content engagement signal refers to a review.
func (s Signal) IsReview() bool {
	return s.Type == SignalContentEngagement && s.Metadata[MetaContentType] == ContentTypeReview
}
