package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mri-screening-server/internal/domain"
)

// StatusCode maps an error kind to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes {"error": message}. Server-side failures are logged and
// answered with a generic message.
func RespondError(c *gin.Context, logger *logrus.Logger, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		apiErr := domain.NewAPIError(domain.ErrorCode(err), "request failed", err.Error(), c.GetString(CorrelationIDKey))
		logger.WithFields(logrus.Fields{
			"code":           apiErr.Code,
			"details":        apiErr.Details,
			"correlation_id": apiErr.RequestID,
			"path":           c.Request.URL.Path,
		}).Error("Internal error")
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(status, gin.H{"error": clientMessage(err)})
}

func clientMessage(err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	if err == domain.ErrAuthentication {
		return "Authorization token required"
	}
	return err.Error()
}
