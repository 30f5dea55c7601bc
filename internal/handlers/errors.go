package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-plugin/internal/apperrors"
)

var statusByCode = map[apperrors.Code]int{
	apperrors.CodeInvalidArgument:    http.StatusBadRequest,
	apperrors.CodeNotFound:           http.StatusNotFound,
	apperrors.CodePermissionDenied:   http.StatusForbidden,
	apperrors.CodeFailedPrecondition: http.StatusConflict,
	apperrors.CodeRateLimited:        http.StatusTooManyRequests,
	apperrors.CodeUnauthenticated:    http.StatusUnauthorized,
	apperrors.CodeInternal:           http.StatusInternalServerError,
}

// respondError writes {"error", "reason"} with the status of err's code.
// Errors without a code are logged and reported as internal.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		logger.Error("request failed", "route", c.FullPath(), "request_id", requestIDFromContext(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "reason": ""})
		return
	}
	status, ok := statusByCode[appErr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "route", c.FullPath(), "request_id", requestIDFromContext(c), "error", err)
	}
	c.JSON(status, gin.H{"error": appErr.Message, "reason": appErr.Reason})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "reason": ""})
}

// intParam parses a positive path parameter, answering 400 otherwise.
func intParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}
