package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/mikeusry/southland-platform-sub000/internal/errors"
)

// Sink receives batches of analytics rows.
type Sink interface {
	Send(ctx context.Context, rows []Row) error
}

// NopSink discards rows. It is used when no sink URL is configured.
type NopSink struct{}

func (NopSink) Send(context.Context, []Row) error { return nil }

// HTTPSink posts rows as a JSON array.
type HTTPSink struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPSink creates a sink posting to url. The client timeout bounds each send.
func NewHTTPSink(url string, timeout time.Duration, logger zerolog.Logger) *HTTPSink {
	return &HTTPSink{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With().Str("component", "forward_sink").Logger(),
	}
}

// Send posts one batch. Non-2xx responses become *perrors.APIError.
func (s *HTTPSink) Send(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshaling forward rows: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "persona-scorer-forward/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("forward delivery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		s.logger.Debug().
			Int("rows", len(rows)).
			Int("status_code", resp.StatusCode).
			Msg("rows forwarded")
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return perrors.NewAPIError("analytics", resp.StatusCode, string(bytes.TrimSpace(msg)))
}
