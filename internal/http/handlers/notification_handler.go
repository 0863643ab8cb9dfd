// Notification HTTP handlers.
//
//   - GET /notifications              (paginated, newest first; ?unread=true)
//   - PUT /notifications/{id}/read    (acknowledge one notification)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/gossip-backend/internal/domain"
	"github.com/tbourn/gossip-backend/internal/services"
	"github.com/tbourn/gossip-backend/internal/sysutil"
)

// ListNotificationsResponse wraps a page of notifications.
type ListNotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Pagination    Pagination            `json:"pagination"`
}

// ListNotifications returns the caller's notifications.
func (h *Handlers) ListNotifications(c *gin.Context) {
	page, pageSize := clampPagination(c)
	unread := sysutil.IsTruthy(c.Query("unread"))

	items, total, err := h.notifs.ListPage(c.Request.Context(), userID(c), unread, page, pageSize)
	if err != nil {
		failDependency(c, err, ErrCodeListFailed)
		return
	}
	if items == nil {
		items = []domain.Notification{}
	}
	ok(c, http.StatusOK, ListNotificationsResponse{
		Notifications: items,
		Pagination:    newPagination(page, pageSize, total),
	})
}

// MarkNotificationRead acknowledges :id for the caller. Marking an already
// read notification succeeds without changing its timestamp.
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	err := h.notifs.MarkRead(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotificationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "notification not found")
		default:
			failDependency(c, err, ErrCodeInternal)
		}
		return
	}
	noContent(c)
}
