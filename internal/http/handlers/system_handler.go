// Operator HTTP handlers, mounted behind middleware.RequireAdmin.
//
//   - GET  /system/breakers               (state and counts per dependency)
//   - POST /system/breakers/{name}/reset  (force a breaker closed)
//   - GET  /system/ratelimits             (configured classes, store mode)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/gossip-backend/internal/breaker"
	"github.com/tbourn/gossip-backend/internal/http/middleware"
	"github.com/tbourn/gossip-backend/internal/ratelimit"
)

// RateLimitView describes the limiter classes. *ratelimit.Gate satisfies it.
type RateLimitView interface {
	Classes() []string
	Policy(class string) (ratelimit.Policy, bool)
	Degraded() bool
}

// BreakersResponse lists every breaker created so far.
type BreakersResponse struct {
	Breakers []breaker.Status `json:"breakers"`
}

// RateLimitClass is one configured limiter class.
type RateLimitClass struct {
	Class               string `json:"class"`
	Points              int    `json:"points"`
	WindowSeconds       int64  `json:"window_seconds"`
	BlockSeconds        int64  `json:"block_seconds"`
	CredentialSensitive bool   `json:"credential_sensitive"`
}

// RateLimitsResponse lists limiter classes and whether the shared store is
// currently bypassed.
type RateLimitsResponse struct {
	Classes       []RateLimitClass `json:"classes"`
	StoreDegraded bool             `json:"store_degraded"`
}

// ListBreakers reports every breaker's state.
func (h *Handlers) ListBreakers(c *gin.Context) {
	st := h.breakers.Statuses()
	if st == nil {
		st = []breaker.Status{}
	}
	ok(c, http.StatusOK, BreakersResponse{Breakers: st})
}

// ResetBreaker forces :name closed with fresh counts.
func (h *Handlers) ResetBreaker(c *gin.Context) {
	name := c.Param("name")
	if !h.breakers.Reset(name) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "breaker not found")
		return
	}
	middleware.LoggerFrom(c).Warn().Str("breaker", name).Msg("breaker reset by operator")
	noContent(c)
}

// ListRateLimits reports the limiter table. With limiting disabled the
// table is empty.
func (h *Handlers) ListRateLimits(c *gin.Context) {
	resp := RateLimitsResponse{Classes: []RateLimitClass{}}
	if h.limits != nil {
		for _, class := range h.limits.Classes() {
			p, _ := h.limits.Policy(class)
			resp.Classes = append(resp.Classes, RateLimitClass{
				Class:               class,
				Points:              p.Points,
				WindowSeconds:       int64(p.Window.Seconds()),
				BlockSeconds:        int64(p.Block.Seconds()),
				CredentialSensitive: p.CredentialSensitive,
			})
		}
		resp.StoreDegraded = h.limits.Degraded()
	}
	ok(c, http.StatusOK, resp)
}
