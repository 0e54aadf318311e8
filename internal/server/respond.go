package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"

	"github.com/sigman78/waycms/internal/auth"
	"github.com/sigman78/waycms/internal/backup"
	"github.com/sigman78/waycms/internal/files"
	"github.com/sigman78/waycms/internal/preview"
	"github.com/sigman78/waycms/internal/sandbox"
	"github.com/sigman78/waycms/internal/store"
	"github.com/sigman78/waycms/internal/tenancy"
)

var validate = validator.New()

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = sonic.ConfigStd.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

var errBadRequest = errors.New("bad request")

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, 32<<20)
	if err := sonic.ConfigStd.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		return badRequest("invalid JSON body")
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return badRequest(verrs[0].Field() + " is " + describe(verrs[0]))
		}
		return badRequest(err.Error())
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "email":
		return "not a valid email"
	case "min":
		return "too short"
	default:
		return "invalid"
	}
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return errBadRequest }

func badRequest(msg string) error { return &requestError{msg: msg} }

// statusOf maps domain errors to HTTP statuses. Unknown errors are 500.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, files.ErrRoot),
		errors.Is(err, files.ErrNotDir),
		errors.Is(err, files.ErrIsDir),
		errors.Is(err, files.ErrExtensionNotAllowed),
		errors.Is(err, files.ErrEmptyQuery),
		errors.Is(err, backup.ErrInvalidName),
		errors.Is(err, backup.ErrUnsafeEntry),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidLink),
		errors.Is(err, tenancy.ErrNoProject),
		errors.Is(err, tenancy.ErrInvalidSlug):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrCurrentPassword):
		return http.StatusUnauthorized
	case errors.Is(err, sandbox.ErrPathRejected),
		errors.Is(err, preview.ErrForbidden),
		errors.Is(err, auth.ErrAccessDenied),
		errors.Is(err, tenancy.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, preview.ErrNotFound),
		errors.Is(err, files.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, backup.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, files.ErrExists),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, backup.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, backup.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, auth.ErrMailNotAvailable):
		return http.StatusServiceUnavailable
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error. Internal errors are logged and hidden.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, status, "internal server error")
		return
	}
	if errors.Is(err, sandbox.ErrPathRejected) {
		s.logger.Warn("path rejected", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, status, sandbox.ErrPathRejected.Error())
		return
	}
	writeError(w, status, err.Error())
}
