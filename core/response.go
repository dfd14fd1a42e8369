package core

import (
	"time"
)

// Status is the outcome carried by a Response.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Response is the reply body sent back to a requester.
// CorrelationID travels as message metadata, not in the JSON body.
type Response struct {
	Status        Status    `json:"status"`
	Data          any       `json:"data"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"-"`
}

// NewResponse converts a handler outcome into a Response.
func NewResponse(result any, err error, now time.Time) Response {
	if err != nil {
		return Failure(err, now)
	}
	return Response{Status: StatusSuccess, Data: result, Timestamp: now.UTC()}
}

// Failure builds an error Response whose data is the error description.
func Failure(err error, now time.Time) Response {
	return Response{Status: StatusError, Data: err.Error(), Timestamp: now.UTC()}
}
