package stage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeusry/southland-platform-sub000/internal/models"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func s(t models.SignalType) models.Signal {
	return models.Signal{Type: t, Timestamp: fixedNow}
}

func page(url string) models.Signal {
	return models.Signal{Type: models.SignalPageView, Value: url, Timestamp: fixedNow}
}

func review() models.Signal {
	return models.Signal{
		Type:     models.SignalContentEngagement,
		Metadata: map[string]string{models.MetaContentType: models.ContentTypeReview},
	}
}

func detect(signals ...models.Signal) Result {
	d := NewDetector(0, func() time.Time { return fixedNow })
	v := models.NewVisitor("anon", fixedNow)
	v.Signals = signals
	return d.Detect(v)
}

func ruleFor(t *testing.T, st models.JourneyStage) Rule {
	t.Helper()
	for _, r := range Rules {
		if r.Stage == st {
			return r
		}
	}
	t.Fatalf("no rule for %s", st)
	return Rule{}
}

func TestRules_OrderAndTotality(t *testing.T) {
	want := []models.JourneyStage{
		models.StageEvangelist, models.StageCommitment, models.StageSuccess, models.StageChallenge,
		models.StageTestPrep, models.StageObjections, models.StageZMOT, models.StageReceptive,
		models.StageAware, models.StageUnaware,
	}
	require.Len(t, Rules, len(want))
	for i, r := range Rules {
		assert.Equal(t, want[i], r.Stage)
	}
	assert.True(t, Rules[len(Rules)-1].Match(Count(nil)))
}

func TestRule_Evangelist(t *testing.T) {
	r := ruleFor(t, models.StageEvangelist)
	p := s(models.SignalPurchase)
	assert.True(t, r.Match(Count([]models.Signal{p, p, p, review()})))
	assert.False(t, r.Match(Count([]models.Signal{p, p, p})))
	assert.False(t, r.Match(Count([]models.Signal{p, p, review()})))
	// Non-review engagement does not count.
	assert.False(t, r.Match(Count([]models.Signal{p, p, p, s(models.SignalContentEngagement)})))
}

func TestRule_Commitment(t *testing.T) {
	r := ruleFor(t, models.StageCommitment)
	p := s(models.SignalPurchase)
	assert.True(t, r.Match(Count([]models.Signal{p, p})))
	assert.False(t, r.Match(Count([]models.Signal{p})))
}

func TestRule_Success(t *testing.T) {
	r := ruleFor(t, models.StageSuccess)
	assert.True(t, r.Match(Count([]models.Signal{s(models.SignalPurchase), s(models.SignalReturnVisit)})))
	assert.False(t, r.Match(Count([]models.Signal{s(models.SignalReturnVisit)})))
}

func TestRule_Challenge(t *testing.T) {
	r := ruleFor(t, models.StageChallenge)
	p := s(models.SignalPurchase)
	assert.True(t, r.Match(Count([]models.Signal{p})))
	assert.False(t, r.Match(Count([]models.Signal{p, p})))
	assert.False(t, r.Match(Count(nil)))
}

func TestRule_TestPrep(t *testing.T) {
	r := ruleFor(t, models.StageTestPrep)
	assert.True(t, r.Match(Count([]models.Signal{s(models.SignalAddToCart)})))
	assert.False(t, r.Match(Count([]models.Signal{s(models.SignalAddToCart), s(models.SignalPurchase)})))
}

func TestRule_Objections(t *testing.T) {
	r := ruleFor(t, models.StageObjections)
	for _, url := range []string{"/pages/faq", "/contact", "/policies/returns", "/pages/guarantee", "/compare/a-b", "/vs/brand-x"} {
		assert.True(t, r.Match(Count([]models.Signal{page(url)})), url)
	}
	assert.False(t, r.Match(Count([]models.Signal{page("/products/coop")})))
	// Only page views are inspected.
	assert.False(t, r.Match(Count([]models.Signal{{Type: models.SignalSearchQuery, Value: "/faq"}})))
}

func TestRule_ZMOT(t *testing.T) {
	r := ruleFor(t, models.StageZMOT)
	pv := s(models.SignalProductView)
	assert.True(t, r.Match(Count([]models.Signal{pv, pv})))
	assert.True(t, r.Match(Count([]models.Signal{pv, s(models.SignalSearchQuery)})))
	assert.False(t, r.Match(Count([]models.Signal{pv})))
	assert.False(t, r.Match(Count([]models.Signal{s(models.SignalSearchQuery), s(models.SignalSearchQuery)})))
}

func TestRule_Receptive(t *testing.T) {
	r := ruleFor(t, models.StageReceptive)
	assert.True(t, r.Match(Count([]models.Signal{s(models.SignalContentEngagement)})))
	assert.True(t, r.Match(Count([]models.Signal{page("/blogs/news/x"), page("/podcast/ep-1")})))
	assert.False(t, r.Match(Count([]models.Signal{page("/blogs/news/x")})))
}

func TestRule_Aware(t *testing.T) {
	r := ruleFor(t, models.StageAware)
	assert.True(t, r.Match(Count([]models.Signal{s(models.SignalProductView)})))
	assert.True(t, r.Match(Count([]models.Signal{s(models.SignalCollectionView)})))
	assert.False(t, r.Match(Count([]models.Signal{page("/")})))
}

func TestDetect_Priority(t *testing.T) {
	p := s(models.SignalPurchase)

	assert.Equal(t, models.StageUnaware, detect().Stage)
	assert.Equal(t, models.StageUnaware, detect(page("/")).Stage)
	assert.Equal(t, models.StageAware, detect(s(models.SignalProductView)).Stage)
	assert.Equal(t, models.StageTestPrep, detect(s(models.SignalAddToCart), page("/faq")).Stage)
	assert.Equal(t, models.StageObjections, detect(page("/faq"), s(models.SignalProductView), s(models.SignalProductView)).Stage)
	assert.Equal(t, models.StageChallenge, detect(p, s(models.SignalAddToCart)).Stage)
	assert.Equal(t, models.StageSuccess, detect(p, s(models.SignalReturnVisit)).Stage)
	assert.Equal(t, models.StageCommitment, detect(p, p, s(models.SignalReturnVisit)).Stage)
	assert.Equal(t, models.StageEvangelist, detect(p, p, p, review()).Stage)
}

func TestDetect_TwoPurchasesNeverBelowCommitment(t *testing.T) {
	p := s(models.SignalPurchase)
	noise := []models.Signal{
		page("/faq"), s(models.SignalAddToCart), s(models.SignalProductView),
		s(models.SignalSearchQuery), s(models.SignalContentEngagement), page("/blog/a"),
	}
	allowed := map[models.JourneyStage]bool{models.StageCommitment: true, models.StageEvangelist: true}

	for i := 0; i <= len(noise); i++ {
		signals := append([]models.Signal{p, p}, noise[:i]...)
		res := detect(signals...)
		assert.True(t, allowed[res.Stage], "got %s with %d noise signals", res.Stage, i)
	}
}

func TestDetect_Confidence(t *testing.T) {
	// base min(1/10, 0.5) + purchase bonus
	assert.InDelta(t, 0.5, detect(s(models.SignalPurchase)).Confidence, 1e-9)
	// unaware with no signals: 0 + 0.1
	assert.InDelta(t, 0.1, detect().Confidence, 1e-9)
	// test_prep with 2 signals: 0.2 + 0.3
	assert.InDelta(t, 0.5, detect(s(models.SignalAddToCart), page("/")).Confidence, 1e-9)

	many := make([]models.Signal, 20)
	for i := range many {
		many[i] = s(models.SignalPurchase)
	}
	// base capped at 0.5, plus 0.4
	assert.InDelta(t, 0.9, detect(many...).Confidence, 1e-9)
	// zmot with many signals: 0.5 + 0.2
	pvs := make([]models.Signal, 12)
	for i := range pvs {
		pvs[i] = s(models.SignalProductView)
	}
	assert.InDelta(t, 0.7, detect(pvs...).Confidence, 1e-9)
}

func TestUpdateHistory_CompactsRepeats(t *testing.T) {
	d := NewDetector(0, func() time.Time { return fixedNow })
	var h []models.StageEntry
	for i := 0; i < 5; i++ {
		h = d.UpdateHistory(h, models.StageAware)
	}
	require.Len(t, h, 1)
	assert.Equal(t, models.StageAware, h[0].Stage)
	assert.Equal(t, fixedNow, h[0].EnteredAt)

	h = d.UpdateHistory(h, models.StageZMOT)
	h = d.UpdateHistory(h, models.StageAware)
	assert.Len(t, h, 3)
}

func TestUpdateHistory_Capped(t *testing.T) {
	d := NewDetector(3, func() time.Time { return fixedNow })
	stages := []models.JourneyStage{
		models.StageUnaware, models.StageAware, models.StageZMOT, models.StageTestPrep, models.StageChallenge,
	}
	var h []models.StageEntry
	for _, st := range stages {
		h = d.UpdateHistory(h, st)
	}
	require.Len(t, h, 3)
	assert.Equal(t, models.StageZMOT, h[0].Stage)
	assert.Equal(t, models.StageChallenge, h[2].Stage)
}

func TestApply_RecordsOnVisitor(t *testing.T) {
	d := NewDetector(0, func() time.Time { return fixedNow })
	v := models.NewVisitor("anon", fixedNow)
	v.Signals = []models.Signal{s(models.SignalAddToCart)}

	res := d.Apply(v)
	assert.Equal(t, models.StageTestPrep, res.Stage)
	assert.Equal(t, models.StageTestPrep, v.CurrentStage)
	assert.Equal(t, res.Confidence, v.StageConfidence)
	require.Len(t, v.StageHistory, 1)

	d.Apply(v)
	assert.Len(t, v.StageHistory, 1)
}
