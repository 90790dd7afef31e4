package handler

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/voiceforge/api/internal/middleware"
	"github.com/voiceforge/api/internal/model"
	"github.com/voiceforge/api/internal/service"
	"github.com/voiceforge/api/internal/store"
	"github.com/voiceforge/api/pkg/response"
)

type GenerationHandler struct {
	service   *service.GenerationService
	validator *validator.Validate
}

func NewGenerationHandler(svc *service.GenerationService, v *validator.Validate) *GenerationHandler {
	return &GenerationHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/generations
// @Summary      Submit generation
// @Description  Submit a new voice generation job for asynchronous processing
// @Tags         Generation
// @Accept       json
// @Produce      json
// @Param        request body model.GenerationCreateRequest true "Generation request"
// @Success      201 {object} model.Generation
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations [post]
func (h *GenerationHandler) Create(c *fiber.Ctx) error {
	var req model.GenerationCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	gen, err := h.service.Submit(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.Created(c, gen)
}

// Get handles GET /api/generations/:id
// @Summary      Get generation
// @Description  Get a generation record by ID
// @Tags         Generation
// @Produce      json
// @Param        id path string true "Generation ID"
// @Success      200 {object} model.Generation
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations/{id} [get]
func (h *GenerationHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Generation ID is required", nil)
	}

	gen, err := h.service.Get(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.OK(c, gen)
}

// Status handles GET /api/generations/:id/status
// @Summary      Get generation status
// @Description  Get progress, status message and queue details for a generation
// @Tags         Generation
// @Produce      json
// @Param        id path string true "Generation ID"
// @Success      200 {object} model.GenerationStatusResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations/{id}/status [get]
func (h *GenerationHandler) Status(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Generation ID is required", nil)
	}

	status, err := h.service.GetStatus(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.OK(c, status)
}

// List handles GET /api/generations
// @Summary      List generations
// @Description  List the caller's generations, newest first, with optional status filter
// @Tags         Generation
// @Produce      json
// @Param        status query string false "Filter by status (pending, processing, completed, failed)"
// @Param        offset query int    false "Pagination offset"
// @Param        limit  query int    false "Page size (default 20, max 100)"
// @Success      200 {object} model.GenerationListResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations [get]
func (h *GenerationHandler) List(c *fiber.Ctx) error {
	var status model.GenerationStatus
	if raw := c.Query("status"); raw != "" {
		switch model.GenerationStatus(raw) {
		case model.GenerationStatusPending, model.GenerationStatusProcessing,
			model.GenerationStatusCompleted, model.GenerationStatusFailed:
			status = model.GenerationStatus(raw)
		default:
			return response.ValidationError(c, "Invalid status filter", map[string]interface{}{
				"status": raw,
			})
		}
	}

	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))

	result, err := h.service.List(c.Context(), middleware.GetUserID(c), status, offset, limit)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.OK(c, result)
}

// Retry handles POST /api/generations/:id/retry
// @Summary      Retry generation
// @Description  Re-queue a failed generation for another attempt
// @Tags         Generation
// @Produce      json
// @Param        id path string true "Generation ID"
// @Success      200 {object} model.Generation
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations/{id}/retry [post]
func (h *GenerationHandler) Retry(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Generation ID is required", nil)
	}

	gen, err := h.service.Retry(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.OK(c, gen)
}

// Delete handles DELETE /api/generations/:id
// @Summary      Delete generation
// @Description  Delete a generation and its output. Blocked while processing.
// @Tags         Generation
// @Produce      json
// @Param        id path string true "Generation ID"
// @Success      204 "No Content"
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations/{id} [delete]
func (h *GenerationHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Generation ID is required", nil)
	}

	if err := h.service.Delete(c.Context(), middleware.GetUserID(c), id); err != nil {
		return h.mapError(c, err)
	}

	return response.NoContent(c)
}

// Download handles GET /api/generations/:id/download
// @Summary      Download generated audio
// @Description  Stream the output audio of a completed generation
// @Tags         Generation
// @Produce      audio/wav
// @Param        id path string true "Generation ID"
// @Success      200 {file} binary
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generations/{id}/download [get]
func (h *GenerationHandler) Download(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Generation ID is required", nil)
	}

	gen, data, err := h.service.Download(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return h.mapError(c, err)
	}

	c.Set(fiber.HeaderContentType, "audio/wav")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.wav"`, gen.ID))
	return c.Send(data)
}

func (h *GenerationHandler) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, service.ErrSampleNotFound):
		return response.NotFound(c, "Sample not found")
	case errors.Is(err, store.ErrNotFound):
		return response.NotFound(c, "Generation not found")
	case errors.Is(err, store.ErrConflict):
		return response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrDispatchFailure):
		return response.DispatchError(c, "Failed to dispatch generation")
	default:
		return response.ServiceError(c, err.Error())
	}
}
