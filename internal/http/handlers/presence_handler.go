// Presence HTTP handlers.
//
//   - GET /presence/{userId}   (self or an accepted friend)
//   - PUT /presence/status     (explicit online/away/busy for a connected user)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/gossip-backend/internal/realtime"
)

// SetStatusRequest is the JSON payload for an explicit status change.
type SetStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// GetPresence returns the presence of :userId as seen by the caller.
// Users outside the caller's friend list look exactly like unknown users.
func (h *Handlers) GetPresence(c *gin.Context) {
	target := strings.TrimSpace(c.Param("userId"))
	if target == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user id required")
		return
	}

	st, err := h.presence.Presence(c.Request.Context(), userID(c), target)
	if err != nil {
		switch {
		case errors.Is(err, realtime.ErrNotVisible):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
		default:
			failDependency(c, err, ErrCodeInternal)
		}
		return
	}
	ok(c, http.StatusOK, st)
}

// SetStatus applies the caller's explicit status and returns the new state.
func (h *Handlers) SetStatus(c *gin.Context) {
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}

	st, err := h.presence.SetStatus(c.Request.Context(), userID(c), req.Status)
	if err != nil {
		switch {
		case errors.Is(err, realtime.ErrInvalidStatus):
			fail(c, http.StatusBadRequest, ErrCodeInvalidStatus, "status must be one of online, away, busy")
		case errors.Is(err, realtime.ErrNotConnected):
			fail(c, http.StatusConflict, ErrCodeNotConnected, "no active connection for this user")
		default:
			failDependency(c, err, ErrCodeInternal)
		}
		return
	}
	ok(c, http.StatusOK, st)
}
