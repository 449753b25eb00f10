package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Inbound storefront event names the extractor understands.
const (
	EventPageView         = "page_view"
	EventSearchPerformed  = "search_performed"
	EventProductViewed    = "product_viewed"
	EventCollectionViewed = "collection_viewed"
	EventAddToCart        = "add_to_cart"
	EventPurchase         = "purchase"
	EventOrderCompleted   = "order_completed"
	EventPersonaSelected  = "persona_selected"
	EventEmailSignup      = "email_signup"
	EventNewsletterSignup = "newsletter_signup"
	EventContentEngaged   = "content_engaged"
	EventSurveyCompleted  = "survey_completed"
	EventPhoneCall        = "phone_call"
)

// PixelEvent is a single behavioral event posted by the storefront pixel.
type PixelEvent struct {
	Event       string         `json:"event"`
	AnonymousID string         `json:"anonymous_id"`
	CustomerID  string         `json:"customer_id,omitempty"`
	Email       string         `json:"email,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	PageURL     string         `json:"page_url,omitempty"`
	PageTitle   string         `json:"page_title,omitempty"`
	Referrer    string         `json:"referrer,omitempty"`
	UTMSource   string         `json:"utm_source,omitempty"`
	UTMMedium   string         `json:"utm_medium,omitempty"`
	UTMCampaign string         `json:"utm_campaign,omitempty"`
	UTMTerm     string         `json:"utm_term,omitempty"`
	UTMContent  string         `json:"utm_content,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// Name returns the event name trimmed and lowercased, the form every event
// mapping compares against.
func (e PixelEvent) Name() string {
	return strings.ToLower(strings.TrimSpace(e.Event))
}

// Time parses the event timestamp, falling back to fallback when it is missing or
// unparseable. Both RFC 3339 strings and unix milliseconds are accepted.
func (e PixelEvent) Time(fallback time.Time) time.Time {
	ts := strings.TrimSpace(e.Timestamp)
	if ts == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t.UTC()
	}
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return fallback
}

// Prop returns a string property, or "" when absent. Numbers and booleans are
// formatted so that required-property checks treat them as present.
func (e PixelEvent) Prop(key string) string {
	if e.Properties == nil {
		return ""
	}
	switch v := e.Properties[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// FirstProp returns the first non-empty property among keys.
func (e PixelEvent) FirstProp(keys ...string) string {
	for _, k := range keys {
		if v := e.Prop(k); v != "" {
			return v
		}
	}
	return ""
}
