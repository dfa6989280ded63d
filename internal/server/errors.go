// Package server defines the error values surfaced by the room registry.
// The router converts these into denial events or absorbs them; they are
// never fatal to a connection.
package server

import "errors"

var (
	// ErrBanned is returned when a banned user attempts to join a room.
	ErrBanned = errors.New("user is banned from room")

	// ErrUnknownRoom is returned for operations on a room that was never created.
	ErrUnknownRoom = errors.New("unknown room")

	// ErrUnknownUser is returned when routing to a username that never logged in.
	ErrUnknownUser = errors.New("unknown user")

	// ErrNotFound is returned when removing a membership that does not exist.
	ErrNotFound = errors.New("user not in room")
)
