// Package ws is the socket transport in front of realtime.Hub.
//
// One Client exists per upgraded connection. Its read pump decodes inbound
// events and dispatches them to the hub; its write pump drains the bounded
// send queue filled by the broadcaster and keeps the connection alive with
// pings. Either pump ending tears the connection down and disconnects it
// from the hub exactly once.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/gossip-backend/internal/ratelimit"
	"github.com/tbourn/gossip-backend/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is a middleman between the socket and the hub. It implements
// realtime.Sender.
type Client struct {
	id       string
	identity realtime.Identity
	ip       string
	conn     *websocket.Conn
	hub      *realtime.Hub
	gate     *ratelimit.Gate
	limiter  *rate.Limiter
	log      zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Send enqueues ev without blocking. It reports false when the queue is full
// or the connection is closing.
func (c *Client) Send(ev realtime.Event) bool {
	b, err := json.Marshal(ev)
	if err != nil {
		c.log.Error().Err(err).Str("event", ev.Name).Msg("encode event")
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump pumps inbound events to the hub until the connection fails, then
// disconnects the client.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Disconnect(ctx, c.id)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		c.handle(ctx, raw)
	}
}

// writePump drains the send queue and pings the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
