package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/schema-registry/internal/domain/registry"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// ErrorCodeKey is the gin context key the last error code is kept under, for request logging.
const ErrorCodeKey = "registry.error_code"

func RespondError(c *gin.Context, status int, code string, err error) {
	if code != "" {
		c.Set(ErrorCodeKey, code)
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// StatusFor maps a registry error code onto an HTTP status.
func StatusFor(code registry.ErrorCode) int {
	switch code {
	case registry.CodeValidation:
		return http.StatusBadRequest
	case registry.CodeNotFound:
		return http.StatusNotFound
	case registry.CodeConflict, registry.CodeInvariantViolation:
		return http.StatusConflict
	case registry.CodeResourceLocked:
		return http.StatusLocked
	case registry.CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case registry.CodeRetryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondRegistryError writes a registry error with its public message. Errors without a
// registry code are reported as internal without leaking their text.
func RespondRegistryError(c *gin.Context, err error) {
	code := registry.CodeOf(err)
	if code == "" {
		if ctxErr := c.Request.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			// Client went away; nginx's convention.
			RespondError(c, 499, "canceled", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, string(registry.CodeInternal), errors.New("internal error"))
		return
	}
	RespondError(c, StatusFor(code), string(code), errors.New(registry.MessageOf(err)))
}
