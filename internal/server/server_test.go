package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeusry/southland-platform-sub000/internal/config"
	"github.com/mikeusry/southland-platform-sub000/internal/engine"
	"github.com/mikeusry/southland-platform-sub000/internal/health"
	"github.com/mikeusry/southland-platform-sub000/internal/metrics"
	"github.com/mikeusry/southland-platform-sub000/internal/models"
	"github.com/mikeusry/southland-platform-sub000/internal/visitor"
	"github.com/mikeusry/southland-platform-sub000/pkg/kvstore"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

// testApp creates a Fiber app backed by a real engine on an in-memory store.
func testApp(t *testing.T, cfg Config) *fiber.App {
	t.Helper()
	logger := zerolog.Nop()
	repo := visitor.NewRepository(kvstore.NewMemoryStore(0), logger)
	svc := engine.NewService(engine.NewProcessor(engine.ProcessorConfig{}), repo, engine.ServiceConfig{Brand: "southland"}, logger)

	checker := health.NewChecker(logger)
	checker.Register("visitor_store", health.Ping(repo.Ping))

	return New(cfg, svc, checker, metrics.New(), logger).App()
}

// stubScorer lets tests force failures the real engine cannot produce on demand.
type stubScorer struct {
	eventErr error
	panics   bool
}

func (s *stubScorer) HandleEvent(context.Context, models.PixelEvent) (models.ScoringResponse, error) {
	if s.panics {
		panic("boom")
	}
	return models.ScoringResponse{}, s.eventErr
}

func (s *stubScorer) HandleBatch(_ context.Context, events []models.PixelEvent) []models.ScoringResponse {
	return make([]models.ScoringResponse, len(events))
}

func (s *stubScorer) GetVisitor(context.Context, string) (*models.VisitorData, error) {
	return nil, errors.New("store offline")
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string, headers ...string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServer_Health(t *testing.T) {
	app := testApp(t, Config{})

	resp := doJSON(t, app, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Ready(t *testing.T) {
	app := testApp(t, Config{})

	resp := doJSON(t, app, "GET", "/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Preflight(t *testing.T) {
	app := testApp(t, Config{})

	resp := doJSON(t, app, "OPTIONS", "/event", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))

	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)
}

func TestServer_EventAddsCORSHeaders(t *testing.T) {
	app := testApp(t, Config{})

	resp := doJSON(t, app, "POST", "/event", `{"event":"page_view","anonymous_id":"a1","page_url":"/"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServer_Event(t *testing.T) {
	app := testApp(t, Config{})

	resp := doJSON(t, app, "POST", "/event",
		`{"event":"page_view","anonymous_id":"v1","page_url":"https://example.com/poultry/backyard/flock-starter/"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "v1", body["visitor_id"])
	assert.Equal(t, "unaware", body["stage"])
	assert.Contains(t, body, "persona_confidence")
	assert.Contains(t, body, "stage_confidence")
	assert.NotContains(t, body, "explicit_choice")
}

func TestServer_PersonaSelected(t *testing.T) {
	app := testApp(t, Config{})

	resp := doJSON(t, app, "POST", "/event",
		`{"event":"persona_selected","anonymous_id":"v2","properties":{"persona":"lawn"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[models.ScoringResponse](t, resp)
	assert.Equal(t, models.PersonaLawn, body.ExplicitChoice)
	assert.Equal(t, models.PersonaLawn, body.Persona)
}

func TestServer_EventValidation(t *testing.T) {
	app := testApp(t, Config{})

	resp := doJSON(t, app, "POST", "/event", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, decode[map[string]string](t, resp)["error"])

	resp = doJSON(t, app, "POST", "/event", `{"event":"page_view","page_url":"/"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "anonymous_id is required", decode[map[string]string](t, resp)["error"])
}

func TestServer_Batch(t *testing.T) {
	app := testApp(t, Config{})

	body := `[
		{"event":"add_to_cart","anonymous_id":"b1","properties":{"product_id":"p1"}},
		{"event":"page_view","page_url":"/"},
		{"event":"purchase","anonymous_id":"b2","properties":{"order_id":"o1"}}
	]`
	resp := doJSON(t, app, "POST", "/batch", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[BatchResponse](t, resp)
	require.Len(t, out.Results, 3)

	assert.True(t, out.Results[0].Success)
	assert.Equal(t, "b1", out.Results[0].VisitorID)
	assert.Equal(t, models.StageTestPrep, out.Results[0].Stage)

	assert.False(t, out.Results[1].Success)
	assert.NotEmpty(t, out.Results[1].Error)

	assert.True(t, out.Results[2].Success)
	assert.Equal(t, models.StageChallenge, out.Results[2].Stage)
}

func TestServer_BatchRejectsNonArray(t *testing.T) {
	app := testApp(t, Config{})

	resp := doJSON(t, app, "POST", "/batch", `{"event":"page_view"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Visitor(t *testing.T) {
	app := testApp(t, Config{})

	resp := doJSON(t, app, "GET", "/visitor/unknown-id", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Visitor not found", decode[map[string]string](t, resp)["error"])

	resp = doJSON(t, app, "POST", "/event", `{"event":"product_viewed","anonymous_id":"known","properties":{"product_id":"p9"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, "GET", "/visitor/known", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decode[models.VisitorData](t, resp)
	assert.Equal(t, "known", v.AnonymousID)
	assert.Equal(t, models.StageAware, v.CurrentStage)
	assert.Len(t, v.Signals, 1)
	assert.Equal(t, 1, v.SessionCount)
}

func TestServer_UnknownRoute(t *testing.T) {
	app := testApp(t, Config{})

	for _, tc := range []struct{ method, path string }{
		{"GET", "/nope"},
		{"GET", "/event"},
		{"POST", "/health/extra"},
	} {
		resp := doJSON(t, app, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, tc.path)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "Not found", string(body), tc.path)
	}
}

func TestServer_InternalErrorIsGeneric(t *testing.T) {
	app := New(Config{}, &stubScorer{eventErr: errors.New("persisting visitor: disk full")}, nil, nil, zerolog.Nop()).App()

	resp := doJSON(t, app, "POST", "/event", `{"event":"page_view","anonymous_id":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, map[string]string{"error": "Internal server error"}, decode[map[string]string](t, resp))

	resp = doJSON(t, app, "GET", "/visitor/x", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServer_PanicIsRecovered(t *testing.T) {
	app := New(Config{}, &stubScorer{panics: true}, nil, nil, zerolog.Nop()).App()

	resp := doJSON(t, app, "POST", "/event", `{"event":"page_view","anonymous_id":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Internal server error", decode[map[string]string](t, resp)["error"])
}

func TestServer_Metrics(t *testing.T) {
	app := testApp(t, Config{})

	doJSON(t, app, "POST", "/event", `{"event":"page_view","anonymous_id":"m1","page_url":"/"}`)

	resp := doJSON(t, app, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `scorer_http_requests_total{code="200",route="/event"} 1`)
}

func TestServer_VisitorAPIKeyAuth(t *testing.T) {
	app := testApp(t, Config{Auth: AuthConfig{Mode: config.AuthAPIKey, APIKey: "secret-key"}})

	doJSON(t, app, "POST", "/event", `{"event":"page_view","anonymous_id":"k1","page_url":"/"}`)

	resp := doJSON(t, app, "GET", "/visitor/k1", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, app, "GET", "/visitor/k1", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, app, "GET", "/visitor/k1", "", "Authorization", "Bearer secret-key")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func signToken(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "analytics",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestServer_VisitorJWTAuth(t *testing.T) {
	app := testApp(t, Config{Auth: AuthConfig{Mode: config.AuthJWT, JWTSecret: testJWTSecret}})

	doJSON(t, app, "POST", "/event", `{"event":"page_view","anonymous_id":"j1","page_url":"/"}`)

	valid := signToken(t, testJWTSecret, time.Now().Add(time.Hour))
	resp := doJSON(t, app, "GET", "/visitor/j1", "", "Authorization", "Bearer "+valid)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	expired := signToken(t, testJWTSecret, time.Now().Add(-time.Hour))
	resp = doJSON(t, app, "GET", "/visitor/j1", "", "Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged := signToken(t, "another-secret-another-secret!!", time.Now().Add(time.Hour))
	resp = doJSON(t, app, "GET", "/visitor/j1", "", "Authorization", "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_AuthDoesNotGuardIngestion(t *testing.T) {
	app := testApp(t, Config{Auth: AuthConfig{Mode: config.AuthAPIKey, APIKey: "secret-key"}})

	resp := doJSON(t, app, "POST", "/event", `{"event":"page_view","anonymous_id":"open","page_url":"/"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RateLimit(t *testing.T) {
	app := testApp(t, Config{RateLimit: RateLimitConfig{RPS: 0.01, Burst: 1}})

	resp := doJSON(t, app, "POST", "/event", `{"event":"page_view","anonymous_id":"r1","page_url":"/"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, "POST", "/event", `{"event":"page_view","anonymous_id":"r1","page_url":"/"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp = doJSON(t, app, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(RateLimitConfig{RPS: 1, Burst: 1}, func() time.Time { return now })

	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.Len(t, rl.clients, 1)

	now = now.Add(limiterIdleAfter + time.Minute)
	assert.True(t, rl.allow("10.0.0.2"))
	assert.Len(t, rl.clients, 1)
	assert.Contains(t, rl.clients, "10.0.0.2")
}
