package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/phishguard/backend/internal/detection"
	"github.com/phishguard/backend/internal/storage/sqlite"
	"github.com/phishguard/backend/pkg/logger"
)

type ScanHandler struct {
	engine *detection.Engine
	store  *sqlite.Store
}

func NewScanHandler(engine *detection.Engine, store *sqlite.Store) *ScanHandler {
	return &ScanHandler{
		engine: engine,
		store:  store,
	}
}

// HandleScan analyzes one URL. Degraded upstream signals still produce a
// result; only unusable input is rejected.
func (h *ScanHandler) HandleScan(c *fiber.Ctx) error {
	var req struct {
		URL string `json:"url"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse scan request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "URL is required",
		})
	}

	result, err := h.engine.Analyze(c.Context(), req.URL)
	if err != nil {
		if errors.Is(err, detection.ErrInvalidInput) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to analyze URL", zap.String("url", req.URL), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to analyze URL",
		})
	}

	return c.JSON(result)
}

// GetScanHistory returns the most recent scans.
func (h *ScanHandler) GetScanHistory(c *fiber.Ctx) error {
	limit := parseLimit(c.Query("limit"), 50, 500)

	entries, err := h.store.ListScans(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to load scan history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load scan history",
		})
	}

	return c.JSON(fiber.Map{
		"scans": entries,
		"count": len(entries),
	})
}

func parseLimit(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
