package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"identity-ledger/apperrors"
)

const requestIDKey = "request_id"

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("request_id", c.GetString(requestIDKey)).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}

// Recovery renders panics as internal errors in the usual error envelope.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error().
			Str("request_id", c.GetString(requestIDKey)).
			Str("path", c.Request.URL.Path).
			Interface("panic", recovered).
			Msg("Panic recovered")
		renderError(c, apperrors.New(apperrors.ErrCodeInternal, "internal server error"))
	})
}

type ErrorResponse struct {
	Success   bool                `json:"success"`
	Error     *apperrors.AppError `json:"error"`
	Timestamp time.Time           `json:"timestamp"`
	RequestID string              `json:"request_id"`
}

func renderError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Wrap(err, apperrors.ErrCodeInternal, "internal server error")
	}
	status := apperrors.HTTPStatus(appErr)

	if appErr.Code == apperrors.ErrCodeRateLimit && appErr.RetryAfter > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", int64(math.Ceil(appErr.RetryAfter.Seconds()))))
	}

	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error().Err(appErr.Cause)
	}
	event.
		Str("request_id", c.GetString(requestIDKey)).
		Str("code", string(appErr.Code)).
		Str("path", c.Request.URL.Path).
		Msg(appErr.Message)

	c.AbortWithStatusJSON(status, ErrorResponse{
		Success:   false,
		Error:     appErr,
		Timestamp: time.Now(),
		RequestID: c.GetString(requestIDKey),
	})
}

func bindError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return apperrors.FromValidator(err)
	}
	return apperrors.NewValidationError("body", "malformed request")
}
