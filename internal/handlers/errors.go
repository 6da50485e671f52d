package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/skincheck/internal/auth"
	"github.com/example/skincheck/internal/classifier"
	"github.com/example/skincheck/internal/imaging"
	"github.com/example/skincheck/internal/logging"
	"github.com/example/skincheck/internal/usecase"
)

type badRequestError struct {
	message string
}

func (e *badRequestError) Error() string {
	return e.message
}

func errBadRequest(message string) error {
	return &badRequestError{message: message}
}

// statusFor maps domain errors onto HTTP status codes and client-facing messages.
func statusFor(err error) (int, string) {
	var badRequest *badRequestError
	var validation *imaging.ValidationError
	switch {
	case errors.As(err, &badRequest):
		return http.StatusBadRequest, badRequest.message
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, imaging.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, imaging.ErrTooLarge.Error()
	case errors.Is(err, imaging.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, imaging.ErrUnsupportedFormat.Error()
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Reason.Error()
	case errors.Is(err, usecase.ErrSpotNotFound):
		return http.StatusNotFound, usecase.ErrSpotNotFound.Error()
	case errors.Is(err, usecase.ErrScanNotFound):
		return http.StatusNotFound, usecase.ErrScanNotFound.Error()
	case errors.Is(err, classifier.ErrPredictionFailed):
		return http.StatusBadGateway, "prediction failed"
	case errors.Is(err, usecase.ErrSaveFailed):
		return http.StatusInternalServerError, "failed to save scan"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		fields := []zap.Field{
			zap.String("path", c.FullPath()),
			zap.String("request_id", RequestIDFrom(c)),
			zap.Int("status", status),
		}
		logger.Error("request failed", append(fields, logging.ErrorFields(err)...)...)
	}
	c.JSON(status, gin.H{"error": message})
}
