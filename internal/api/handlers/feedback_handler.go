package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/phishguard/backend/internal/feedback"
	"github.com/phishguard/backend/internal/storage"
	"github.com/phishguard/backend/pkg/logger"
)

type FeedbackHandler struct {
	service *feedback.Service
}

func NewFeedbackHandler(service *feedback.Service) *FeedbackHandler {
	return &FeedbackHandler{
		service: service,
	}
}

// HandleSubmit accepts one user correction and returns the stored record
// with its initial review status.
func (h *FeedbackHandler) HandleSubmit(c *fiber.Ctx) error {
	var req feedback.SubmitRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse feedback body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	rec, err := h.service.Submit(c.Context(), req)
	if err != nil {
		if errors.Is(err, feedback.ErrInvalidSubmission) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to submit feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to submit feedback",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(rec)
}

// GetFeedback returns one record by id.
func (h *FeedbackHandler) GetFeedback(c *fiber.Ctx) error {
	id := c.Params("id")

	rec, err := h.service.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Feedback not found",
			})
		}
		logger.Error("Failed to load feedback", zap.String("feedback_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load feedback",
		})
	}

	return c.JSON(rec)
}
