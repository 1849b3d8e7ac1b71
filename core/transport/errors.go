package transport

import (
	"errors"

	"github.com/dmitrymomot/tailbus/core/broker"
	"github.com/dmitrymomot/tailbus/core/dispatch"
	"github.com/dmitrymomot/tailbus/core/replay"
	"github.com/dmitrymomot/tailbus/core/response"
	"github.com/dmitrymomot/tailbus/core/retention"
	"github.com/dmitrymomot/tailbus/core/topic"
)

// Machine-readable error codes shared by HTTP bodies and WebSocket error frames.
const (
	CodeBadRequest       = "bad_request"
	CodeInvalidTopic     = "invalid_topic"
	CodeInvalidPattern   = "invalid_pattern"
	CodeInvalidAfter     = "invalid_after"
	CodeReservedTopic    = "reserved_topic"
	CodeCapacityExceeded = "capacity_exceeded"
	CodeBrokerClosed     = "broker_closed"
	CodeNotSubscribed    = "not_subscribed"
	CodeUnknownAction    = "unknown_action"
	CodeSubscriptionEnd  = "subscription_ended"
	CodeInternal         = "internal_error"
)

var errConnClosed = errors.New("connection closed")

// asHTTPError maps broker and validation errors to HTTP errors.
func asHTTPError(err error) error {
	switch {
	case errors.Is(err, topic.ErrInvalidTopic):
		return response.ErrBadRequest.WithCode(CodeInvalidTopic).WithMessage(err.Error())
	case errors.Is(err, topic.ErrInvalidPattern):
		return response.ErrBadRequest.WithCode(CodeInvalidPattern).WithMessage(err.Error())
	case errors.Is(err, retention.ErrCapacityExceeded):
		return response.ErrServiceUnavailable.WithCode(CodeCapacityExceeded).WithMessage(err.Error())
	case errors.Is(err, broker.ErrClosed):
		return response.ErrServiceUnavailable.WithCode(CodeBrokerClosed).WithMessage(err.Error())
	}
	return err
}

// errorCode maps an error to the code carried by a WebSocket error frame.
func errorCode(err error) string {
	switch {
	case errors.Is(err, topic.ErrInvalidPattern):
		return CodeInvalidPattern
	case errors.Is(err, dispatch.ErrCapacityExceeded), errors.Is(err, retention.ErrCapacityExceeded):
		return CodeCapacityExceeded
	case errors.Is(err, broker.ErrClosed):
		return CodeBrokerClosed
	case errors.Is(err, replay.ErrSubscriberUnreachable):
		return CodeSubscriptionEnd
	}
	return CodeInternal
}
