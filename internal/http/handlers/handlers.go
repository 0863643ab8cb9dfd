// Package handlers exposes the REST side of the realtime backend: presence
// lookups, notification inbox, message posts with history, and the
// operator view of circuit breakers and rate-limit classes.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/gossip-backend/internal/breaker"
	"github.com/tbourn/gossip-backend/internal/domain"
	"github.com/tbourn/gossip-backend/internal/realtime"
	"github.com/tbourn/gossip-backend/internal/services"
	"github.com/tbourn/gossip-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// PresenceService answers presence queries and explicit status changes.
// *realtime.Hub satisfies it.
type PresenceService interface {
	// Presence returns userID's state as visible to viewerID.
	Presence(ctx context.Context, viewerID, userID string) (realtime.PresenceState, error)
	// SetStatus applies an explicit status for a connected user.
	SetStatus(ctx context.Context, userID, raw string) (realtime.PresenceState, error)
}

// NotificationService reads and acknowledges a user's notifications.
type NotificationService interface {
	ListPage(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, int64, error)
	MarkRead(ctx context.Context, userID, id string) error
}

// MessageService posts to rooms and pages through their history.
type MessageService interface {
	Post(ctx context.Context, id realtime.Identity, room realtime.RoomKey, body, idemKey string) (services.Posted, error)
	HistoryPage(ctx context.Context, userID string, room realtime.RoomKey, page, pageSize int) ([]domain.Message, int64, error)
}

// BreakerAdmin inspects and resets circuit breakers. *breaker.Gate satisfies it.
type BreakerAdmin interface {
	Statuses() []breaker.Status
	Reset(name string) bool
}

//
// Handler wiring
//

// Handlers groups the REST endpoints. Any service may be nil when its routes
// are not mounted.
type Handlers struct {
	presence PresenceService
	notifs   NotificationService
	msgs     MessageService
	breakers BreakerAdmin
	limits   RateLimitView
}

// New constructs and returns a Handlers instance bound to the given services.
func New(presence PresenceService, notifs NotificationService, msgs MessageService, breakers BreakerAdmin, limits RateLimitView) *Handlers {
	return &Handlers{presence: presence, notifs: notifs, msgs: msgs, breakers: breakers, limits: limits}
}

// userID returns the authenticated user id set by middleware.Authenticate.
func userID(c *gin.Context) string {
	return c.GetString("userID")
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}
