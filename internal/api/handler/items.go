package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/racketdrop/internal/api/response"
	"github.com/dharsanguruparan/racketdrop/internal/intake"
	"github.com/dharsanguruparan/racketdrop/internal/status"
)

// Submitter runs intake for a submission.
type Submitter interface {
	Validate(sub intake.Submission) error
	Submit(ctx context.Context, sub intake.Submission) (intake.Receipt, error)
}

// StatusReader answers polling queries.
type StatusReader interface {
	Get(ctx context.Context, id string) (status.View, error)
}

// ItemHandler serves submission and status endpoints.
type ItemHandler struct {
	intake Submitter
	status StatusReader
	media  MediaStore
	upload UploadLimits
}

// NewItemHandler builds an ItemHandler.
func NewItemHandler(in Submitter, st StatusReader, media MediaStore, limits UploadLimits) *ItemHandler {
	return &ItemHandler{intake: in, status: st, media: media, upload: limits}
}

// SubmitExisting handles POST /api/v1/items/existing for media already in
// storage.
func (h *ItemHandler) SubmitExisting(w http.ResponseWriter, r *http.Request) {
	var sub intake.Submission
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", nil)
		return
	}
	h.submit(w, r, sub)
}

// Get handles GET /api/v1/items/{itemID}.
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	view, err := h.status.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Item not found", nil)
			return
		}
		slog.Error("status query failed", "item_id", id, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load item", nil)
		return
	}
	response.JSON(w, view)
}

func (h *ItemHandler) submit(w http.ResponseWriter, r *http.Request, sub intake.Submission) {
	receipt, err := h.intake.Submit(r.Context(), sub)
	if err != nil {
		writeSubmitError(w, receipt, err)
		return
	}
	response.Accepted(w, receipt)
}

func writeSubmitError(w http.ResponseWriter, receipt intake.Receipt, err error) {
	var verr *intake.ValidationError
	switch {
	case errors.As(err, &verr):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid submission", verr.Fields)
	case errors.Is(err, intake.ErrInvalidSubmission):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, intake.ErrMediaNotFound):
		response.Error(w, http.StatusNotFound, "MEDIA_NOT_FOUND", "Media reference does not exist", nil)
	case errors.Is(err, intake.ErrEnqueue):
		slog.Error("submission not queued", "item_id", receipt.ItemID, "error", err)
		response.Error(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "Item recorded but could not be queued",
			map[string]string{"itemId": receipt.ItemID})
	default:
		slog.Error("submission failed", "item_id", receipt.ItemID, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to submit item", nil)
	}
}
