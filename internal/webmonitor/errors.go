package webmonitor

import (
	"errors"
	"net/http"

	"github.com/dj-oyu/checklist-camera/internal/camera"
	"github.com/dj-oyu/checklist-camera/internal/checklist"
	"github.com/dj-oyu/checklist-camera/internal/loop"
)

// Error kinds reported to clients.
const (
	KindValidation = "validation"
	KindCapture    = "capture"
	KindInference  = "inference"
	KindResource   = "resource"
	KindInternal   = "internal"
)

// classify maps an error to its kind and HTTP status.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, checklist.ErrNotAllowed), errors.Is(err, checklist.ErrDuplicate):
		return KindValidation, http.StatusBadRequest
	case errors.Is(err, loop.ErrCapture):
		return KindCapture, http.StatusConflict
	case errors.Is(err, camera.ErrAcquire), errors.Is(err, loop.ErrClosed):
		return KindResource, http.StatusServiceUnavailable
	case errors.Is(err, loop.ErrInference):
		return KindInference, http.StatusInternalServerError
	default:
		return KindInternal, http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind, status := classify(err)
	writeJSONWithStatus(w, map[string]any{
		"error": err.Error(),
		"kind":  kind,
	}, status)
}
