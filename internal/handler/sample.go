package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/voiceforge/api/internal/middleware"
	"github.com/voiceforge/api/internal/model"
	"github.com/voiceforge/api/internal/service"
	"github.com/voiceforge/api/internal/store"
	"github.com/voiceforge/api/pkg/response"
)

type SampleHandler struct {
	service   *service.SampleService
	validator *validator.Validate
	maxBytes  int64
}

func NewSampleHandler(svc *service.SampleService, v *validator.Validate, maxBytes int64) *SampleHandler {
	return &SampleHandler{
		service:   svc,
		validator: v,
		maxBytes:  maxBytes,
	}
}

// Upload handles POST /api/samples
// @Summary      Upload voice sample
// @Description  Upload an audio file to the caller's voice sample library
// @Tags         Sample
// @Accept       multipart/form-data
// @Produce      json
// @Param        name       formData string false "Sample display name (defaults to file name)"
// @Param        uploadType formData string false "uploaded or recorded"
// @Param        file       formData file   true "Audio file (WAV, MP3, M4A, WEBM; max 50MB)"
// @Success      201 {object} model.Sample
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/samples [post]
func (h *SampleHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if file.Size > h.maxBytes {
		return response.ValidationError(c, "File size exceeds limit", map[string]interface{}{
			"maxSize":  h.maxBytes,
			"fileSize": file.Size,
		})
	}

	contentType := file.Header.Get("Content-Type")
	validTypes := map[string]bool{
		"audio/wav":   true,
		"audio/x-wav": true,
		"audio/wave":  true,
		"audio/mpeg":  true,
		"audio/mp3":   true,
		"audio/mp4":   true,
		"audio/x-m4a": true,
		"audio/webm":  true,
		"audio/ogg":   true,
	}
	if !validTypes[contentType] {
		return response.ValidationError(c, "Invalid file type. Supported: WAV, MP3, M4A, WEBM, OGG", map[string]interface{}{
			"contentType": contentType,
		})
	}

	name := c.FormValue("name")
	if name == "" {
		name = file.Filename
	}

	uploadType := model.UploadTypeUploaded
	if raw := c.FormValue("uploadType"); raw != "" {
		switch model.UploadType(raw) {
		case model.UploadTypeUploaded, model.UploadTypeRecorded:
			uploadType = model.UploadType(raw)
		default:
			return response.ValidationError(c, "Invalid uploadType. Supported: uploaded, recorded", nil)
		}
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	sample, err := h.service.Upload(c.Context(), middleware.GetUserID(c), name, file.Filename, uploadType, f, contentType)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.Created(c, sample)
}

// List handles GET /api/samples
// @Summary      List voice samples
// @Description  List the caller's voice samples, newest first
// @Tags         Sample
// @Produce      json
// @Param        offset query int false "Pagination offset"
// @Param        limit  query int false "Page size (default 20, max 100)"
// @Success      200 {object} model.SampleListResponse
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/samples [get]
func (h *SampleHandler) List(c *fiber.Ctx) error {
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))

	result, err := h.service.List(c.Context(), middleware.GetUserID(c), offset, limit)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.OK(c, result)
}

// Get handles GET /api/samples/:id
// @Summary      Get voice sample
// @Description  Get a voice sample record by ID
// @Tags         Sample
// @Produce      json
// @Param        id path string true "Sample ID"
// @Success      200 {object} model.Sample
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/samples/{id} [get]
func (h *SampleHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Sample ID is required", nil)
	}

	sample, err := h.service.Get(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.OK(c, sample)
}

// Delete handles DELETE /api/samples/:id
// @Summary      Delete voice sample
// @Description  Delete a voice sample and its stored audio
// @Tags         Sample
// @Produce      json
// @Param        id path string true "Sample ID"
// @Success      204 "No Content"
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/samples/{id} [delete]
func (h *SampleHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Sample ID is required", nil)
	}

	if err := h.service.Delete(c.Context(), middleware.GetUserID(c), id); err != nil {
		return h.mapError(c, err)
	}

	return response.NoContent(c)
}

func (h *SampleHandler) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		return response.NotFound(c, "Sample not found")
	default:
		return response.ServiceError(c, err.Error())
	}
}
