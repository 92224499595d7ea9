package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "loomworks.io/loom/internal/pkg/errors"
	"loomworks.io/loom/internal/pkg/logger"
)

// ErrorHandler captures errors added via c.Error() and renders a consistent
// JSON body. Domain errors map onto HTTP status by kind.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		if de, ok := apperrors.AsDomainError(err); ok {
			status := HTTPStatus(de)
			logger.Warn("Request error",
				zap.String("kind", string(de.Kind)),
				zap.String("code", de.Code),
				zap.String("message", de.Message),
				zap.Int("status", status),
			)
			c.JSON(status, RenderError(de))
			return
		}

		logger.Error("Unhandled request error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "An internal error occurred",
		})
	}
}

// HTTPStatus maps a domain error kind to an HTTP status code.
func HTTPStatus(de *apperrors.DomainError) int {
	switch de.Kind {
	case apperrors.KindSchemaValidation:
		return http.StatusBadRequest
	case apperrors.KindBusinessRule:
		return http.StatusUnprocessableEntity
	case apperrors.KindConcurrencyConflict:
		return http.StatusConflict
	case apperrors.KindRouting:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// RenderError is the JSON shape for a failed dispatch; it carries enough
// structure for the caller to decide whether to resubmit.
func RenderError(de *apperrors.DomainError) gin.H {
	body := gin.H{
		"kind":      string(de.Kind),
		"code":      de.Code,
		"message":   de.Message,
		"retryable": de.Retryable,
	}
	if len(de.Details) > 0 {
		body["details"] = de.Details
	}
	return body
}
