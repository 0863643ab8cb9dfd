// Package services holds the business logic between the HTTP/realtime
// transports and the repositories. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrNotificationNotFound indicates that the notification does not exist
	// or belongs to another user.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrNotMember is returned when the caller is not a member of the room
	// whose history or messages it asked for.
	ErrNotMember = errors.New("not a member of this room")

	// ErrTooLong is returned when a message body exceeds the configured
	// maximum length.
	ErrTooLong = errors.New("message too long")
)
