package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/banglalekha/backend/internal/logging"
	"github.com/banglalekha/backend/internal/models"
	"github.com/banglalekha/backend/internal/services"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	maxImageSize         = 10 << 20
)

// TextExtractor recognizes text in an image.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// TextRefiner corrects recognized text.
type TextRefiner interface {
	Refine(ctx context.Context, text string) (string, error)
}

type FeaturesHandler struct {
	usage     *services.UsageService
	extractor TextExtractor
	refiner   TextRefiner
	validator *services.ValidationHelper
}

func NewFeaturesHandler(usage *services.UsageService, extractor TextExtractor, refiner TextRefiner) *FeaturesHandler {
	return &FeaturesHandler{
		usage:     usage,
		extractor: extractor,
		refiner:   refiner,
		validator: services.NewValidationHelper(),
	}
}

type FeatureResponse struct {
	Text   string                `json:"text"`
	Charge *services.UsageCharge `json:"charge"`
}

// ExtractText runs OCR on an uploaded image
// @Summary Extract text from image
// @Tags Features
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Client request id"
// @Param image formData file true "Image to recognize"
// @Success 200 {object} FeatureResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /features/ocr [post]
func (h *FeaturesHandler) ExtractText(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize+1024)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		services.SendErrorResponse(w, "Invalid multipart form", http.StatusBadRequest, nil)
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		services.SendErrorResponse(w, "image file is required", http.StatusBadRequest, nil)
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil || len(image) == 0 {
		services.SendErrorResponse(w, "image file is empty", http.StatusBadRequest, nil)
		return
	}

	var text string
	h.run(w, r, accountID, models.FeatureOCRExtract, func(ctx context.Context) error {
		var err error
		text, err = h.extractor.ExtractText(ctx, image)
		return err
	}, &text)
}

type RefineRequest struct {
	Text string `json:"text" validate:"required,max=20000"`
}

// RefineText corrects OCR output
// @Summary Refine recognized text
// @Tags Features
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Client request id"
// @Param request body RefineRequest true "Text to refine"
// @Success 200 {object} FeatureResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /features/refine [post]
func (h *FeaturesHandler) RefineText(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}

	var req RefineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var text string
	h.run(w, r, accountID, models.FeatureTextRefine, func(ctx context.Context) error {
		var err error
		text, err = h.refiner.Refine(ctx, req.Text)
		return err
	}, &text)
}

func (h *FeaturesHandler) run(w http.ResponseWriter, r *http.Request, accountID string, feature models.Feature, fn func(context.Context) error, text *string) {
	requestID := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if requestID == "" {
		requestID = logging.RequestID(r.Context())
	}
	if requestID == "" {
		_, requestID = logging.WithRequestID(r.Context(), "")
	}

	charge, err := h.usage.Run(r.Context(), accountID, feature, requestID, fn)
	if err != nil {
		if errors.Is(err, services.ErrFeatureFailed) {
			logger := logging.FromContext(r.Context())
			logger.Warn().Err(err).Str("feature", string(feature)).Msg("feature invocation failed")
			services.SendJSON(w, http.StatusBadGateway, map[string]any{
				"error":  "Feature failed, credits were refunded",
				"charge": charge,
			})
			return
		}
		writeError(w, r, err)
		return
	}

	services.SendJSON(w, http.StatusOK, FeatureResponse{Text: *text, Charge: charge})
}
