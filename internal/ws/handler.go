package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/gossip-backend/internal/ratelimit"
	"github.com/tbourn/gossip-backend/internal/realtime"
)

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(token string) (realtime.Identity, error)
}

// TokenFunc extracts the raw token from the upgrade request.
type TokenFunc func(*http.Request) string

// Options tune the transport.
type Options struct {
	SendBuffer      int
	EventsPerSecond float64
	EventBurst      int
	AllowedOrigins  []string // empty allows any origin
	Token           TokenFunc
	Gate            *ratelimit.Gate // optional; charges message:send to the message class
	Logger          zerolog.Logger
}

// Handler upgrades authenticated requests and runs a Client per socket.
type Handler struct {
	hub      *realtime.Hub
	verifier TokenVerifier
	opts     Options
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler returns a Handler serving hub.
func NewHandler(hub *realtime.Hub, verifier TokenVerifier, opts Options) *Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.EventsPerSecond <= 0 {
		opts.EventsPerSecond = 20
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = 40
	}
	h := &Handler{hub: hub, verifier: verifier, opts: opts, log: opts.Logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

// checkOrigin accepts requests without an Origin (non-browser clients still
// need a token) and browser requests from the allowlist.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.log.Warn().Str("origin", origin).Msg("websocket origin rejected")
	return false
}

// Serve is the GET /ws handler. The identity is verified before the upgrade
// so a rejected client never reaches the hub.
func (h *Handler) Serve(c *gin.Context) {
	raw := ""
	if h.opts.Token != nil {
		raw = h.opts.Token(c.Request)
	}
	id, err := h.verifier.Verify(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "unauthorized",
			"message":    "invalid or missing token",
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Debug().Err(err).Str("user_id", id.UserID).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.NewString()
	cl := &Client{
		id:       connID,
		identity: id,
		ip:       c.ClientIP(),
		conn:     conn,
		hub:      h.hub,
		gate:     h.opts.Gate,
		limiter:  rate.NewLimiter(rate.Limit(h.opts.EventsPerSecond), h.opts.EventBurst),
		log:      h.log.With().Str("conn_id", connID).Str("user_id", id.UserID).Logger(),
		send:     make(chan []byte, h.opts.SendBuffer),
		done:     make(chan struct{}),
	}

	// The socket outlives the request; keep its values (trace) but not its
	// cancellation.
	ctx := context.WithoutCancel(c.Request.Context())

	go cl.writePump()
	h.hub.Connect(ctx, id, cl)
	go cl.readPump(ctx)
}
