package service

import "errors"

var (
	// ErrUnknownConnection is returned for operations scoped to a conn_id
	// that the registry has never seen (spec.md §7 — these ARE reported as
	// errors, unlike unknown usernames in user_state/edit/delete).
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrNoRoute is returned when a message has neither a channel nor any
	// pm_users to deliver to.
	ErrNoRoute = errors.New("message has no channel or pm_users")
)
