package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/membersync/internal/store"
	"github.com/roach88/membersync/internal/transform"
)

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes an error response.
func WriteError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// writeErr maps domain errors to statuses.
func (s *Server) writeErr(c *gin.Context, err error) {
	switch {
	case transform.IsValidation(err):
		WriteError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
	case errors.Is(err, store.ErrNotFound):
		WriteError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		WriteError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func unavailable(c *gin.Context, what string) {
	WriteError(c, http.StatusServiceUnavailable, "UNAVAILABLE", what+" is not configured on this instance")
}
