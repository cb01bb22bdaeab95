package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"studiolink/pkg/errors"
	"studiolink/pkg/logger"
	"studiolink/pkg/utils"
)

// RequestIDHeader carries the per-request id back to the caller.
const RequestIDHeader = "X-Request-ID"

// ErrorHandlerMiddleware renders the last handler error, unless the handler
// already wrote a response. AppErrors keep their status and code; anything
// else becomes a 500.
func ErrorHandlerMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		appErr := errors.GetAppError(err)
		if appErr == nil {
			log.Errorw("Unhandled error",
				"error", err,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"request_id", c.Writer.Header().Get(RequestIDHeader),
			)
			appErr = errors.NewInternalError("Internal server error")
		} else {
			log.Warnw("Request failed",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"context", appErr.Context,
				"request_id", c.Writer.Header().Get(RequestIDHeader),
			)
		}
		writeAppError(c, appErr)
	}
}

// writeAppError aborts the chain with the JSON error body every studio
// endpoint uses.
func writeAppError(c *gin.Context, appErr *errors.AppError) {
	body := gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	}
	if len(appErr.Context) > 0 {
		body["details"] = appErr.Context
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, body)
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("Panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				writeAppError(c, errors.NewInternalError("Internal server error"))
			}
		}()

		c.Next()
	}
}

// RequestLoggerMiddleware tags each request with an id and logs it once
// finished.
func RequestLoggerMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))

		start := time.Now()
		c.Next()

		cl.LogRequest(c.Request.Context(), c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start))
	}
}
