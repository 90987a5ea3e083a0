package handler

import (
	"log/slog"
	"net/http"

	"github.com/dharsanguruparan/racketdrop/internal/api/response"
	"github.com/dharsanguruparan/racketdrop/internal/s3storage"
)

// MediaHandler lists stored media so clients can resubmit them.
type MediaHandler struct {
	media MediaStore
}

func NewMediaHandler(media MediaStore) *MediaHandler {
	return &MediaHandler{media: media}
}

// List handles GET /api/v1/media.
func (h *MediaHandler) List(w http.ResponseWriter, r *http.Request) {
	objects, err := h.media.List(r.Context(), s3storage.UploadPrefix)
	if err != nil {
		slog.Error("list media failed", "error", err)
		response.Error(w, http.StatusBadGateway, "STORAGE_ERROR", "Failed to list media", nil)
		return
	}
	if objects == nil {
		objects = []s3storage.Object{}
	}
	response.JSON(w, objects)
}
