// Package extract converts raw storefront events into typed behavioral signals.
package extract

import (
	"strings"
	"time"
	"unicode"

	"github.com/mikeusry/southland-platform-sub000/internal/models"
)

// Extractor turns pixel events into signals. It holds only read-only tables and is
// safe for concurrent use.
type Extractor struct {
	rules *Rules
}

// New creates an extractor. A nil rules argument selects DefaultRules.
func New(rules *Rules) *Extractor {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Extractor{rules: rules}
}

// Extract returns the signals derived from one event. Signals carry the event's own
// timestamp, or now when the event has none. Events with missing fields yield fewer
// signals, never an error.
func (x *Extractor) Extract(evt models.PixelEvent, now time.Time) []models.Signal {
	ts := evt.Time(now)
	var signals []models.Signal

	if url := strings.TrimSpace(evt.PageURL); url != "" {
		md := map[string]string{}
		if p, ok := x.PersonaFromURL(url); ok {
			md[models.MetaDetectedPersona] = string(p)
		} else if p, ok := x.DetectPersona(evt.PageTitle); ok {
			md[models.MetaDetectedPersona] = string(p)
		}
		signals = append(signals, newSignal(models.SignalPageView, url, ts, md))
	}

	if s, ok := x.eventSignal(evt, ts); ok {
		s.Metadata[models.MetaSourceEvent] = evt.Event
		signals = append(signals, s)
	}

	return signals
}

// eventSignal maps a named event to its signal, if its required properties exist.
func (x *Extractor) eventSignal(evt models.PixelEvent, ts time.Time) (models.Signal, bool) {
	md := map[string]string{}

	switch evt.Name() {
	case models.EventSearchPerformed:
		q := evt.FirstProp("query", "search_term")
		if q == "" {
			return models.Signal{}, false
		}
		x.hint(md, q)
		return newSignal(models.SignalSearchQuery, q, ts, md), true

	case models.EventProductViewed:
		v := productValue(evt)
		if v == "" {
			return models.Signal{}, false
		}
		x.hint(md, productText(evt))
		return newSignal(models.SignalProductView, v, ts, md), true

	case models.EventCollectionViewed:
		v := evt.FirstProp("collection_handle", "collection_title")
		if v == "" {
			return models.Signal{}, false
		}
		x.hint(md, evt.Prop("collection_title")+" "+evt.Prop("collection_handle"))
		return newSignal(models.SignalCollectionView, v, ts, md), true

	case models.EventAddToCart:
		v := productValue(evt)
		if v == "" {
			return models.Signal{}, false
		}
		x.hint(md, productText(evt))
		return newSignal(models.SignalAddToCart, v, ts, md), true

	case models.EventPurchase, models.EventOrderCompleted:
		v := evt.FirstProp("order_id", "total")
		if v == "" {
			return models.Signal{}, false
		}
		x.hint(md, productText(evt))
		return newSignal(models.SignalPurchase, v, ts, md), true

	case models.EventPersonaSelected:
		p := models.PersonaID(strings.ToLower(evt.Prop("persona")))
		if !p.Valid() {
			return models.Signal{}, false
		}
		md[models.MetaDetectedPersona] = string(p)
		return newSignal(models.SignalDecisionEngine, string(p), ts, md), true

	case models.EventEmailSignup, models.EventNewsletterSignup:
		v := evt.Prop("form")
		if v == "" {
			v = evt.Event
		}
		x.hint(md, evt.Prop("interest"))
		return newSignal(models.SignalEmailSignup, v, ts, md), true

	case models.EventContentEngaged:
		id := evt.Prop("content_id")
		ct := strings.ToLower(evt.Prop("content_type"))
		if id == "" && ct == "" {
			return models.Signal{}, false
		}
		if ct != "" {
			md[models.MetaContentType] = ct
		}
		v := id
		if v == "" {
			v = ct
		}
		x.hint(md, evt.Prop("content_title")+" "+evt.PageTitle)
		return newSignal(models.SignalContentEngagement, v, ts, md), true

	case models.EventSurveyCompleted:
		if p := models.PersonaID(strings.ToLower(evt.Prop("persona"))); p.Valid() {
			md[models.MetaDetectedPersona] = string(p)
			return newSignal(models.SignalSurveyResponse, string(p), ts, md), true
		}
		answer := evt.Prop("answer")
		if answer == "" {
			return models.Signal{}, false
		}
		x.hint(md, answer)
		return newSignal(models.SignalSurveyResponse, answer, ts, md), true

	case models.EventPhoneCall:
		v := evt.FirstProp("topic", "phone")
		if v == "" {
			v = evt.Event
		}
		x.hint(md, evt.Prop("topic"))
		return newSignal(models.SignalPhoneCall, v, ts, md), true
	}

	return models.Signal{}, false
}

// PersonaFromURL returns the persona of the first URL rule matching url.
func (x *Extractor) PersonaFromURL(url string) (models.PersonaID, bool) {
	for _, r := range x.rules.URLRules {
		if r.Pattern.MatchString(url) {
			return r.Persona, true
		}
	}
	return "", false
}

// DetectPersona counts keyword hits per persona and returns the persona with the
// strictly highest count. Ties resolve to the dictionary declared first.
func (x *Extractor) DetectPersona(text string) (models.PersonaID, bool) {
	norm := normalize(text)
	if strings.TrimSpace(norm) == "" {
		return "", false
	}

	var best models.PersonaID
	bestHits := 0
	for _, set := range x.rules.Keywords {
		hits := 0
		for _, kw := range set.Keywords {
			// Keywords match at word starts so "hen" counts "hens" but not "kitchen".
			if strings.Contains(norm, " "+kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = set.Persona, hits
		}
	}
	if bestHits == 0 {
		return "", false
	}
	return best, true
}

func (x *Extractor) hint(md map[string]string, text string) {
	if p, ok := x.DetectPersona(text); ok {
		md[models.MetaDetectedPersona] = string(p)
	}
}

func newSignal(t models.SignalType, value string, ts time.Time, md map[string]string) models.Signal {
	return models.Signal{Type: t, Value: value, Timestamp: ts, Metadata: md}
}

func productValue(evt models.PixelEvent) string {
	return evt.FirstProp("product_handle", "product_id", "product_title")
}

func productText(evt models.PixelEvent) string {
	return strings.Join([]string{
		evt.Prop("product_title"),
		evt.Prop("product_type"),
		strings.ReplaceAll(evt.Prop("product_handle"), "-", " "),
		evt.Prop("product_tags"),
	}, " ")
}

// normalize lowercases text and collapses punctuation into single spaces, with a
// leading space so every word is preceded by one.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 1)
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return b.String()
}
