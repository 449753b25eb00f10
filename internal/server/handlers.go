package server

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/mikeusry/southland-platform-sub000/internal/engine"
	perrors "github.com/mikeusry/southland-platform-sub000/internal/errors"
	"github.com/mikeusry/southland-platform-sub000/internal/models"
	"github.com/mikeusry/southland-platform-sub000/internal/requestid"
)

// BatchResponse wraps per-event results of POST /batch.
type BatchResponse struct {
	Results []models.ScoringResponse `json:"results"`
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	scorer Scorer
	logger zerolog.Logger
}

// NewHandlers creates handlers backed by scorer.
func NewHandlers(scorer Scorer, logger zerolog.Logger) *Handlers {
	return &Handlers{
		scorer: scorer,
		logger: logger.With().Str("component", "handlers").Logger(),
	}
}

// Event handles POST /event.
func (h *Handlers) Event(c *fiber.Ctx) error {
	var evt models.PixelEvent
	if err := json.Unmarshal(c.Body(), &evt); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("Invalid JSON body"))
	}

	resp, err := h.scorer.HandleEvent(c.UserContext(), evt)
	if err != nil {
		if perrors.IsInvalidInput(err) {
			return c.Status(fiber.StatusBadRequest).JSON(errorBody(engine.PublicMessage(err)))
		}
		return err
	}
	return c.JSON(resp)
}

// Batch handles POST /batch. The body is a JSON array of events.
func (h *Handlers) Batch(c *fiber.Ctx) error {
	var events []models.PixelEvent
	if err := json.Unmarshal(c.Body(), &events); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("Body must be a JSON array of events"))
	}

	results := h.scorer.HandleBatch(c.UserContext(), events)

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	if failed > 0 {
		h.logger.Warn().
			Int("events", len(events)).
			Int("failed", failed).
			Str("request_id", requestid.FromFiber(c)).
			Msg("Batch completed with failures")
	}

	return c.JSON(BatchResponse{Results: results})
}

// Visitor handles GET /visitor/:id.
func (h *Handlers) Visitor(c *fiber.Ctx) error {
	v, err := h.scorer.GetVisitor(c.UserContext(), c.Params("id"))
	if err != nil {
		if perrors.IsNotFound(err) || perrors.IsInvalidInput(err) {
			return c.Status(fiber.StatusNotFound).JSON(errorBody("Visitor not found"))
		}
		return err
	}
	return c.JSON(v)
}
