package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationTimeout means no usable artifact was captured before the deadline.
	ErrAuthenticationTimeout = errors.New("authentication timed out")

	// ErrAuthenticationRejected means the platform requires browser emulation
	// and it was not enabled (and no token was supplied).
	ErrAuthenticationRejected = errors.New("authentication rejected: browser emulation must be enabled and login completed manually")

	// ErrSessionChallenged means the platform answered with a bot-protection
	// page; the captured session has to be renewed in the browser.
	ErrSessionChallenged = errors.New("session challenged by bot protection, log in again")

	// ErrNotAuthenticated is returned by platform calls made before Authenticate.
	ErrNotAuthenticated = errors.New("session not authenticated")
)

// NetworkError aborts an all-or-nothing listing (non-2xx or transport failure).
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
