package ws

import (
	"context"
	"errors"

	"github.com/goccy/go-json"

	"github.com/tbourn/gossip-backend/internal/config"
	"github.com/tbourn/gossip-backend/internal/ratelimit"
	"github.com/tbourn/gossip-backend/internal/realtime"
)

// Error codes carried by outbound error events.
const (
	CodeBadRequest    = "bad_request"
	CodeUnknownEvent  = "unknown_event"
	CodeUnknownRoom   = "unknown_room"
	CodeInvalidStatus = "invalid_status"
	CodeNotConnected  = "not_connected"
	CodeRateLimited   = "too_many_requests"
	CodeInternal      = "internal_error"
)

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinData struct {
	Rooms []string `json:"rooms"`
}

type roomData struct {
	Room string `json:"room"`
}

type statusData struct {
	Status string `json:"status"`
}

type messageData struct {
	Room string `json:"room"`
	Body string `json:"body"`
}

// handle decodes one inbound frame and applies it. Every accepted event
// counts as activity.
func (c *Client) handle(ctx context.Context, raw []byte) {
	if !c.limiter.Allow() {
		c.sendError(CodeRateLimited, "too many events", 1)
		return
	}
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		c.sendError(CodeBadRequest, "malformed event", 0)
		return
	}
	_ = c.hub.Heartbeat(ctx, c.id)

	var err error
	switch in.Event {
	case realtime.EventHeartbeat:
	case realtime.EventRoomJoin:
		var d joinData
		if err = decode(in.Data, &d); err != nil {
			break
		}
		rooms := make([]realtime.RoomKey, 0, len(d.Rooms))
		for _, s := range d.Rooms {
			var k realtime.RoomKey
			if k, err = realtime.ParseRoomKey(s); err != nil {
				break
			}
			rooms = append(rooms, k)
		}
		if err == nil {
			_, err = c.hub.JoinRooms(ctx, c.id, rooms)
		}
	case realtime.EventRoomLeave, realtime.EventTypingStart, realtime.EventTypingStop:
		var d roomData
		var k realtime.RoomKey
		if err = decode(in.Data, &d); err != nil {
			break
		}
		if k, err = realtime.ParseRoomKey(d.Room); err != nil {
			break
		}
		switch in.Event {
		case realtime.EventRoomLeave:
			err = c.hub.LeaveRoom(ctx, c.id, k)
		case realtime.EventTypingStart:
			err = c.hub.StartTyping(ctx, c.id, k)
		default:
			err = c.hub.StopTyping(ctx, c.id, k)
		}
	case realtime.EventStatusSet:
		var d statusData
		if err = decode(in.Data, &d); err == nil {
			_, err = c.hub.SetStatus(ctx, c.identity.UserID, d.Status)
		}
	case realtime.EventMessageSend:
		err = c.sendMessage(ctx, in.Data)
	default:
		c.sendError(CodeUnknownEvent, "unknown event "+in.Event, 0)
		return
	}

	if err != nil {
		c.reject(err)
	}
}

func (c *Client) sendMessage(ctx context.Context, data json.RawMessage) error {
	var d messageData
	if err := decode(data, &d); err != nil {
		return err
	}
	k, err := realtime.ParseRoomKey(d.Room)
	if err != nil {
		return err
	}
	if c.gate != nil {
		_, err := c.gate.Consume(ctx, config.ClassMessage, ratelimit.RequestKey(c.ip, c.identity.UserID))
		if errors.Is(err, ratelimit.ErrLimited) {
			return err
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("message rate check failed, allowing")
		}
	}
	_, err = c.hub.SendMessage(ctx, c.identity, k, d.Body)
	return err
}

var errMalformed = errors.New("malformed event data")

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errMalformed
	}
	return nil
}

func (c *Client) reject(err error) {
	var limited *ratelimit.ExceededError
	switch {
	case errors.As(err, &limited):
		c.sendError(CodeRateLimited, "rate limit exceeded", limited.RetryAfterSeconds())
	case errors.Is(err, errMalformed), errors.Is(err, realtime.ErrEmptyMessage):
		c.sendError(CodeBadRequest, err.Error(), 0)
	case errors.Is(err, realtime.ErrUnknownRoom):
		c.sendError(CodeUnknownRoom, err.Error(), 0)
	case errors.Is(err, realtime.ErrInvalidStatus):
		c.sendError(CodeInvalidStatus, err.Error(), 0)
	case errors.Is(err, realtime.ErrNotConnected):
		c.sendError(CodeNotConnected, err.Error(), 0)
	default:
		c.log.Error().Err(err).Msg("realtime event failed")
		c.sendError(CodeInternal, "internal error", 0)
	}
}

func (c *Client) sendError(code, msg string, retryAfter int) {
	c.Send(realtime.Event{Name: realtime.EventError, Data: realtime.ErrorPayload{
		Code:       code,
		Message:    msg,
		RetryAfter: retryAfter,
	}})
}
