package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
)

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	switch rserrors.GetCode(err) {
	case rserrors.ErrCodeInvalidInput, rserrors.ErrCodeInvalidQuery:
		return http.StatusBadRequest
	case rserrors.ErrCodeRepositoryNotFound, rserrors.ErrCodeDocumentNotFound:
		return http.StatusNotFound
	case rserrors.ErrCodeFacetState:
		return http.StatusConflict
	case rserrors.ErrCodeIndexLocked:
		return http.StatusLocked
	case rserrors.ErrCodeStorageRead, rserrors.ErrCodeIndexWrite, rserrors.ErrCodeSearchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a JSON error body with its mapped status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		attrs := rserrors.FormatForLog(err)
		args := make([]any, 0, len(attrs)+1)
		args = append(args, slog.String("path", r.URL.Path))
		for _, a := range attrs {
			args = append(args, a)
		}
		slog.Error("request_failed", args...)
	}

	render.Status(r, status)
	render.JSON(w, r, rserrors.ToJSON(err))
}
