package transport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrymomot/tailbus/core/message"
	"github.com/dmitrymomot/tailbus/core/replay"
	"github.com/dmitrymomot/tailbus/core/response"
	"github.com/dmitrymomot/tailbus/core/topic"
)

// Client frame actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Server frame types.
const (
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameMessage      = "message"
	FrameError        = "error"
)

// ClientFrame is a control frame sent by a WebSocket client.
type ClientFrame struct {
	Action  string      `json:"action"`
	Pattern string      `json:"pattern"`
	After   json.Number `json:"after,omitempty"`
}

// ServerFrame is every frame the server writes. Fields irrelevant to Type are omitted.
type ServerFrame struct {
	Type      string           `json:"type"`
	Pattern   string           `json:"pattern"`
	New       *bool            `json:"new,omitempty"`
	Topic     string           `json:"topic,omitempty"`
	Sequence  message.Sequence `json:"sequence,omitempty,string"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	Code      string           `json:"code,omitempty"`
	Message   string           `json:"message,omitempty"`
}

func subscribedFrame(pattern string, added bool) ServerFrame {
	return ServerFrame{Type: FrameSubscribed, Pattern: pattern, New: &added}
}

func unsubscribedFrame(pattern string) ServerFrame {
	return ServerFrame{Type: FrameUnsubscribed, Pattern: pattern}
}

func errorFrame(pattern, code, msg string) ServerFrame {
	return ServerFrame{Type: FrameError, Pattern: pattern, Code: code, Message: msg}
}

func messageFrame(d replay.Delivery) ServerFrame {
	ts := d.Entry.Sequence.Time().UTC()
	return ServerFrame{
		Type:      FrameMessage,
		Pattern:   d.Pattern,
		Topic:     d.Entry.Topic(),
		Sequence:  d.Entry.Sequence,
		Timestamp: &ts,
		Payload:   payloadJSON(d.Entry.Message.Payload),
	}
}

// payloadJSON embeds JSON payloads as-is and anything else as a JSON string.
func payloadJSON(p []byte) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(p) {
		return json.RawMessage(p)
	}
	b, _ := json.Marshal(string(p))
	return b
}

// subscribeQuery holds the connect-time subscription parameters.
type subscribeQuery struct {
	patterns []string
	after    message.Sequence
	resume   bool
}

// parseSubscribeQuery reads repeated pattern parameters and an optional after
// sequence. lastEventID is used when after is absent.
func parseSubscribeQuery(r *http.Request, lastEventID bool) (subscribeQuery, error) {
	q := r.URL.Query()

	var sq subscribeQuery
	for _, p := range q["pattern"] {
		if err := topic.ValidatePattern(p); err != nil {
			return sq, asHTTPError(err)
		}
		sq.patterns = append(sq.patterns, p)
	}

	raw := q.Get("after")
	if raw == "" && lastEventID {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw != "" {
		seq, err := parseSequence(raw)
		if err != nil {
			return sq, response.ErrBadRequest.WithCode(CodeInvalidAfter).WithMessage("after must be a decimal sequence")
		}
		sq.after, sq.resume = seq, true
	}

	return sq, nil
}

func parseSequence(s string) (message.Sequence, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	return message.Sequence(n), err
}
