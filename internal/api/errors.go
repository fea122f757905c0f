package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nhle/pmsched/internal/engine"
)

// writeError maps an engine outcome to its HTTP status. Anything that is
// not a typed engine error is an internal failure and is logged.
func (h *Handler) writeError(c *gin.Context, err error) {
	var e *engine.Error
	if !errors.As(err, &e) {
		h.log.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	body := gin.H{"error": e.Kind.String(), "detail": e.Error()}
	switch e.Kind {
	case engine.KindNotFound:
		c.JSON(http.StatusNotFound, body)
	case engine.KindConflict:
		body["code"] = "modified"
		if e.Op == "accept" {
			body["code"] = "already_claimed"
		}
		c.JSON(http.StatusConflict, body)
	case engine.KindInvalidOperation:
		c.JSON(http.StatusUnprocessableEntity, body)
	case engine.KindValidation:
		c.JSON(http.StatusBadRequest, body)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}
