package core

import "errors"

var (
	// ErrBrokerClosed is returned when operations are attempted on a closed broker.
	ErrBrokerClosed = errors.New("replymux: broker is closed")

	// ErrConnectionLost is wrapped by adapters when the underlying connection drops.
	// The dispatcher resubscribes a bounded number of times before giving up.
	ErrConnectionLost = errors.New("replymux: broker connection lost")

	// ErrNoHandler is returned when no handler is registered for a destination.
	ErrNoHandler = errors.New("replymux: no handler registered for destination")

	// ErrAlreadyStarted is returned when Run or Consume is called twice.
	ErrAlreadyStarted = errors.New("replymux: already started")

	// ErrStopped is returned by Run after the controller has been stopped.
	ErrStopped = errors.New("replymux: controller stopped")

	// ErrNoBroker is returned when a dispatcher is created without a broker.
	ErrNoBroker = errors.New("replymux: broker is nil")

	// ErrDraining is returned to adapters for deliveries that arrive after intake stopped.
	ErrDraining = errors.New("replymux: dispatcher is draining")

	// ErrMissingCorrelationID is a decode error: a reply was requested without a correlation id.
	ErrMissingCorrelationID = errors.New("replymux: reply-to present without correlation id")

	// ErrMalformedMetadata is a decode error for unusable correlation headers.
	ErrMalformedMetadata = errors.New("replymux: malformed correlation metadata")

	// ErrReplyNotAllowed is returned when a reply destination fails the allow-list.
	ErrReplyNotAllowed = errors.New("replymux: reply destination not allowed")
)
