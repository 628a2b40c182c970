package server

import (
	"net/http"
	"strconv"

	"fare-observer/src/helpers"

	"github.com/gin-gonic/gin"
)

const maxHistoryLimit = 500

var notDeployed = helpers.NewNotFoundError("no model is deployed")

// -----------------------------------------------------------------------------

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case helpers.IsSchemaMismatch(err):
		return http.StatusInternalServerError
	case helpers.IsNotFound(err):
		return http.StatusNotFound
	case helpers.IsCommitConflict(err):
		return http.StatusConflict
	case helpers.IsInsufficientData(err), helpers.IsNumericGuard(err):
		return http.StatusUnprocessableEntity
	case helpers.IsValidation(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// -----------------------------------------------------------------------------

func parseLimit(raw string) (int, error) {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, helpers.NewValidationError("limit must be a non-negative integer, got %q", raw)
	}
	return min(limit, maxHistoryLimit), nil
}
