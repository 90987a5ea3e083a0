package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/racketdrop/internal/api/response"
	"github.com/dharsanguruparan/racketdrop/internal/intake"
	"github.com/dharsanguruparan/racketdrop/internal/model"
	"github.com/dharsanguruparan/racketdrop/internal/s3storage"
)

const maxFieldBytes = 256

var (
	errFileTooLarge = errors.New("file exceeds limit")
	errEmptyFile    = errors.New("empty file")
)

// MediaStore is the media storage boundary used by the upload and listing
// endpoints.
type MediaStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	List(ctx context.Context, prefix string) ([]s3storage.Object, error)
}

// UploadLimits bounds what the upload endpoint accepts.
type UploadLimits struct {
	MaxFileSize       int64
	AllowedExtensions []string
}

func (l UploadLimits) allows(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range l.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// Upload handles POST /api/v1/items: the file part is spooled to disk, stored
// as media, and then submitted like any existing reference.
func (h *ItemHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.upload.MaxFileSize+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_MULTIPART", "Expecting multipart form", nil)
		return
	}

	var (
		sub intake.Submission
		tmp *tempUpload
	)
	defer func() {
		if tmp != nil {
			tmp.cleanup()
		}
	}()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeReadError(w, err)
			return
		}

		switch part.FormName() {
		case "file":
			if tmp != nil {
				part.Close()
				response.Error(w, http.StatusBadRequest, "INVALID_MULTIPART", "Only one file may be uploaded", nil)
				return
			}
			if !h.upload.allows(part.FileName()) {
				part.Close()
				response.Error(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA",
					"Only "+strings.Join(h.upload.AllowedExtensions, ", ")+" files are accepted", nil)
				return
			}
			tmp, err = persistTemp(part, h.upload.MaxFileSize)
			if err != nil {
				writeReadError(w, err)
				return
			}
		case "category":
			sub.Category, err = readField(part)
		case "subClassification":
			var v string
			v, err = readField(part)
			sub.SubClassification = model.SubClassification(v)
		case "orientation":
			var v string
			v, err = readField(part)
			sub.Orientation = model.Orientation(v)
		case "viewAngle":
			var v string
			v, err = readField(part)
			sub.ViewAngle = model.ViewAngle(v)
		}
		part.Close()
		if err != nil {
			writeReadError(w, err)
			return
		}
	}

	if tmp == nil {
		response.Error(w, http.StatusBadRequest, "MISSING_FILE", "Multipart field \"file\" is required", nil)
		return
	}
	if !isVideo(tmp.contentType) {
		response.Error(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA", "File content is not a video", nil)
		return
	}

	sub.MediaRef = s3storage.ObjectKey(uuid.NewString(), tmp.filename)
	if err := h.intake.Validate(sub); err != nil {
		writeSubmitError(w, intake.Receipt{}, err)
		return
	}
	if err := h.media.Put(r.Context(), sub.MediaRef, tmp.f, tmp.size, tmp.contentType); err != nil {
		slog.Error("store media failed", "media_ref", sub.MediaRef, "error", err)
		response.Error(w, http.StatusBadGateway, "STORAGE_ERROR", "Failed to store file", nil)
		return
	}
	h.submit(w, r, sub)
}

type tempUpload struct {
	f           *os.File
	size        int64
	contentType string
	filename    string
}

func (t *tempUpload) cleanup() {
	t.f.Close()
	os.Remove(t.f.Name())
}

// persistTemp streams part to a temp file, enforcing limit and capturing the
// first 512 bytes for content sniffing.
func persistTemp(part *multipart.Part, limit int64) (*tempUpload, error) {
	f, err := os.CreateTemp("", "racketdrop-*"+strings.ToLower(filepath.Ext(part.FileName())))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmp := &tempUpload{f: f, filename: part.FileName()}

	var sniff []byte
	buf := make([]byte, 32*1024)
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			tmp.size += int64(n)
			if tmp.size > limit {
				tmp.cleanup()
				return nil, errFileTooLarge
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := f.Write(buf[:n]); err != nil {
				tmp.cleanup()
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			tmp.cleanup()
			return nil, readErr
		}
	}
	if tmp.size == 0 {
		tmp.cleanup()
		return nil, errEmptyFile
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		tmp.cleanup()
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	tmp.contentType = http.DetectContentType(sniff)
	return tmp, nil
}

func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// isVideo accepts sniffed video types. QuickTime files are not recognised by
// the sniffer and come back as octet-stream.
func isVideo(contentType string) bool {
	return strings.HasPrefix(contentType, "video/") || contentType == "application/octet-stream"
}

func writeReadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, errFileTooLarge), errors.As(err, &maxErr):
		response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the upload limit", nil)
	case errors.Is(err, errEmptyFile):
		response.Error(w, http.StatusBadRequest, "EMPTY_FILE", "Uploaded file is empty", nil)
	default:
		response.Error(w, http.StatusBadRequest, "INVALID_MULTIPART", "Could not read upload", nil)
	}
}
