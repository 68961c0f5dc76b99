package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	applicationdomain "github.com/isabella232/smartstart-sub000/internal/application/domain"
	"github.com/isabella232/smartstart-sub000/internal/config"
	"github.com/isabella232/smartstart-sub000/internal/paygate"
	reconciledomain "github.com/isabella232/smartstart-sub000/internal/reconcile/domain"
	"github.com/isabella232/smartstart-sub000/internal/registry"
	submissiondomain "github.com/isabella232/smartstart-sub000/internal/submission/domain"
	"github.com/isabella232/smartstart-sub000/pkg/db"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorPayload follows the intake contract: a 400 carries the error
// list plus the registry's own status and duplicate flag.
type errorPayload struct {
	Status    string            `json:"status"`
	Duplicate bool              `json:"duplicate,omitempty"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var rejection *submissiondomain.RegistryRejection
	if errors.As(err, &rejection) {
		status := rejection.Status
		if status == "" {
			status = registry.StatusInvalid
		}
		return http.StatusBadRequest, errorPayload{
			Status:    status,
			Duplicate: rejection.Duplicate,
			Errors:    fieldErrors(rejection.Errors),
		}
	}

	var registryErr *registry.Error
	if errors.As(err, &registryErr) {
		// The registry's own status code is mirrored; connectivity
		// failures have none and surface as 500.
		status := registryErr.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusInternalServerError
		}
		return status, errorPayload{Status: "error"}
	}

	var gatewayErr *paygate.Error
	if errors.As(err, &gatewayErr) {
		return http.StatusInternalServerError, errorPayload{Status: "error"}
	}

	switch {
	case errors.Is(err, submissiondomain.ErrDuplicate):
		return http.StatusBadRequest, errorPayload{
			Status:    registry.StatusInvalid,
			Duplicate: true,
			Errors: []ValidationError{{
				Field:   "child",
				Code:    "duplicate_submission",
				Message: "an unprocessed application already exists for this child",
			}},
		}
	case errors.Is(err, submissiondomain.ErrInvalidSubmission),
		errors.Is(err, reconciledomain.ErrInvalidRequest),
		errors.Is(err, config.ErrUnknownProduct):
		return http.StatusBadRequest, errorPayload{
			Status: registry.StatusInvalid,
			Errors: []ValidationError{{
				Field:   "request",
				Code:    "invalid_request",
				Message: "invalid request",
			}},
		}
	case errors.Is(err, reconciledomain.ErrGone),
		errors.Is(err, applicationdomain.ErrApplicationNotFound):
		return http.StatusGone, errorPayload{Status: "gone"}
	case errors.Is(err, db.ErrTxTimeout):
		return http.StatusInternalServerError, errorPayload{Status: "error"}
	default:
		return http.StatusInternalServerError, errorPayload{Status: "error"}
	}
}

func fieldErrors(errs []registry.FieldError) []ValidationError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]ValidationError, 0, len(errs))
	for _, fieldErr := range errs {
		out = append(out, ValidationError{
			Field:   fieldErr.Field,
			Code:    fieldErr.Code,
			Message: fieldErr.Message,
		})
	}
	return out
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status == http.StatusGone:
		return "gone", payload.Status
	case status >= http.StatusInternalServerError:
		return "internal_error", payload.Status
	case status >= http.StatusBadRequest:
		return "validation_error", payload.Status
	default:
		return "", ""
	}
}
