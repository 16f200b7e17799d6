package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/phishguard/backend/internal/feedback"
	"github.com/phishguard/backend/internal/review"
	"github.com/phishguard/backend/internal/storage"
	"github.com/phishguard/backend/internal/storage/sqlite"
	"github.com/phishguard/backend/pkg/logger"
)

type AdminHandler struct {
	coordinator *review.Coordinator
	store       *sqlite.Store
}

func NewAdminHandler(coordinator *review.Coordinator, store *sqlite.Store) *AdminHandler {
	return &AdminHandler{
		coordinator: coordinator,
		store:       store,
	}
}

// GetReviewQueue lists records awaiting moderation, flagged first.
func (h *AdminHandler) GetReviewQueue(c *fiber.Ctx) error {
	filter := review.QueueFilter{
		Flag:      feedback.Flag(c.Query("flag")),
		Expertise: feedback.Expertise(c.Query("expertise")),
		Limit:     parseLimit(c.Query("limit"), 50, 500),
	}

	queue, err := h.coordinator.ListQueue(c.Context(), filter)
	if err != nil {
		logger.Error("Failed to load review queue", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load review queue",
		})
	}

	return c.JSON(fiber.Map{
		"feedback": queue,
		"count":    len(queue),
	})
}

// HandleReview applies one decision to one record.
func (h *AdminHandler) HandleReview(c *fiber.Ctx) error {
	var req struct {
		Decision string `json:"decision"`
		AdminID  string `json:"admin_id"`
		Comment  string `json:"comment"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse review body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	rec, err := h.coordinator.ReviewOne(c.Context(), review.ReviewRequest{
		FeedbackID: c.Params("id"),
		Decision:   req.Decision,
		AdminID:    req.AdminID,
		Comment:    req.Comment,
	})
	if err != nil {
		return h.reviewError(c, err)
	}

	return c.JSON(rec)
}

// HandleBatchReview applies one decision to many records, reporting per-id
// outcomes.
func (h *AdminHandler) HandleBatchReview(c *fiber.Ctx) error {
	var req review.BatchRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse batch review body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.AdminID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "admin_id is required",
		})
	}
	if len(req.IDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "ids must not be empty",
		})
	}

	outcomes := h.coordinator.BatchReview(c.Context(), req)

	return c.JSON(fiber.Map{
		"results": outcomes,
		"count":   len(outcomes),
	})
}

// GetAuditTrail returns the decision history of one record.
func (h *AdminHandler) GetAuditTrail(c *fiber.Ctx) error {
	id := c.Params("id")

	trail, err := h.coordinator.AuditTrail(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Feedback not found",
			})
		}
		logger.Error("Failed to load audit trail", zap.String("feedback_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load audit trail",
		})
	}

	return c.JSON(fiber.Map{
		"feedback_id": id,
		"decisions":   trail,
	})
}

// GetDashboard returns the moderation quality snapshot.
func (h *AdminHandler) GetDashboard(c *fiber.Ctx) error {
	dashboard, err := h.coordinator.DashboardSnapshot(c.Context())
	if err != nil {
		logger.Error("Failed to build dashboard", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build dashboard",
		})
	}

	return c.JSON(dashboard)
}

// GetDataset returns the approved training corpus, newest first.
func (h *AdminHandler) GetDataset(c *fiber.Ctx) error {
	limit := parseLimit(c.Query("limit"), 100, 1000)

	entries, err := h.store.ListDataset(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to load dataset", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load dataset",
		})
	}

	return c.JSON(fiber.Map{
		"dataset": entries,
		"count":   len(entries),
	})
}

func (h *AdminHandler) reviewError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, review.ErrInvalidReview):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, storage.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Feedback not found",
		})
	case errors.Is(err, review.ErrAlreadyReviewed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	default:
		logger.Error("Failed to apply review decision", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to apply review decision",
		})
	}
}
