// Message HTTP handlers.
//
// This file exposes REST endpoints for room messages:
//   - POST /conversations/{id}/messages   (send to a conversation room)
//   - POST /groups/{id}/messages          (send to a group room)
//   - GET  /conversations/{id}/messages   (paginated history, oldest first)
//   - GET  /groups/{id}/messages
//
// A REST post goes through the same hub path as a socket message:send, so
// room members see message:new and offline members get a notification.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// post exists for (user, room, key), the stored response is returned with
// `Idempotency-Replayed: true` and nothing is sent again.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/gossip-backend/internal/domain"
	"github.com/tbourn/gossip-backend/internal/http/middleware"
	"github.com/tbourn/gossip-backend/internal/realtime"
	"github.com/tbourn/gossip-backend/internal/services"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a message.
//
// Body is normalized by the handler (line endings and excessive blank lines)
// before being passed to the service layer.
type PostMessageRequest struct {
	Body string `json:"body" binding:"required"`
}

// ListMessagesResponse contains a page of room history and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
// CRLF/CR become LF, runs of 3+ LFs collapse to two, and surrounding
// whitespace is trimmed.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// ConversationScope and GroupScope bind idempotency keys to the room the
// route addresses.
func ConversationScope(c *gin.Context) string {
	return realtime.ConversationRoom(c.Param("id")).String()
}

func GroupScope(c *gin.Context) string {
	return realtime.GroupRoom(c.Param("id")).String()
}

//
// Handlers
//

// PostConversationMessage sends to conversation :id.
func (h *Handlers) PostConversationMessage(c *gin.Context) {
	h.postMessage(c, realtime.ConversationRoom(c.Param("id")))
}

// PostGroupMessage sends to group :id.
func (h *Handlers) PostGroupMessage(c *gin.Context) {
	h.postMessage(c, realtime.GroupRoom(c.Param("id")))
}

// ListConversationMessages pages through conversation :id.
func (h *Handlers) ListConversationMessages(c *gin.Context) {
	h.listMessages(c, realtime.ConversationRoom(c.Param("id")))
}

// ListGroupMessages pages through group :id.
func (h *Handlers) ListGroupMessages(c *gin.Context) {
	h.listMessages(c, realtime.GroupRoom(c.Param("id")))
}

func (h *Handlers) postMessage(c *gin.Context, room realtime.RoomKey) {
	if strings.TrimSpace(room.ID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "room id required")
		return
	}
	id, found := middleware.IdentityFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing identity")
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		return
	}
	body := sanitizeContent(req.Body)
	if body == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	res, err := h.msgs.Post(c.Request.Context(), id, room, body, idemKey)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, realtime.ErrEmptyMessage):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		case errors.Is(err, realtime.ErrUnknownRoom):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a member of this room")
		default:
			failDependency(c, err, ErrCodeSendFailed)
		}
		return
	}

	if res.Replayed {
		c.Header(middleware.HeaderReplayed, "true")
	}
	c.Data(res.Status, "application/json; charset=utf-8", res.Body)
}

func (h *Handlers) listMessages(c *gin.Context, room realtime.RoomKey) {
	page, pageSize := clampPagination(c)

	items, total, err := h.msgs.HistoryPage(c.Request.Context(), userID(c), room, page, pageSize)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotMember), errors.Is(err, realtime.ErrUnknownRoom):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "room not found")
		default:
			failDependency(c, err, ErrCodeListFailed)
		}
		return
	}

	var lastID string
	if n := len(items); n > 0 {
		lastID = items[n-1].ID
	}
	etag := fmt.Sprintf(`W/"messages:%s:%d:%d:%d:%s"`, room, total, page, pageSize, lastID)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}

	if items == nil {
		items = []domain.Message{}
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}
