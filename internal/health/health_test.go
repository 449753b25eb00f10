package health

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, path string, h fiber.Handler) (int, string) {
	t.Helper()
	app := fiber.New()
	app.Get(path, h)
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestLivenessHandler(t *testing.T) {
	code, body := serve(t, "/health", LivenessHandler())
	assert.Equal(t, fiber.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", func(ctx context.Context) Status { return StatusOK })
	c.Register("forwarder", func(ctx context.Context) Status { return StatusOK })

	assert.True(t, c.IsReady(context.Background()))
	assert.Len(t, c.Last(), 2)
}

func TestChecker_OneDown(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", func(ctx context.Context) Status { return StatusDown })
	c.Register("forwarder", func(ctx context.Context) Status { return StatusOK })

	assert.False(t, c.IsReady(context.Background()))
	assert.Equal(t, StatusDown, c.Last()["store"])
}

func TestChecker_DegradedStillReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("forwarder", func(ctx context.Context) Status { return StatusDegraded })

	assert.True(t, c.IsReady(context.Background()))
}

func TestChecker_NoChecks(t *testing.T) {
	assert.True(t, NewChecker(zerolog.Nop()).IsReady(context.Background()))
}

func TestChecker_CheckTimeout(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.timeout = 10 * time.Millisecond
	c.Register("store", Ping(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	assert.False(t, c.IsReady(context.Background()))
}

func TestPing(t *testing.T) {
	ok := Ping(func(context.Context) error { return nil })
	down := Ping(func(context.Context) error { return errors.New("closed") })

	assert.Equal(t, StatusOK, ok(context.Background()))
	assert.Equal(t, StatusDown, down(context.Background()))
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", func(ctx context.Context) Status { return StatusOK })

	code, body := serve(t, "/ready", c.ReadinessHandler())
	assert.Equal(t, fiber.StatusOK, code)
	assert.JSONEq(t, `{"status":"ready","checks":{"store":"ok"}}`, body)

	c.Register("store", func(ctx context.Context) Status { return StatusDown })
	code, body = serve(t, "/ready", c.ReadinessHandler())
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
	assert.Contains(t, body, "not_ready")
}
