package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/dmitrymomot/tailbus/core/handler"
	"github.com/dmitrymomot/tailbus/core/logger"
	"github.com/dmitrymomot/tailbus/core/message"
	"github.com/dmitrymomot/tailbus/core/response"
	"github.com/dmitrymomot/tailbus/core/topic"
)

// PublishRequest is the POST /publish body.
type PublishRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// PublishResponse acknowledges a retained message.
type PublishResponse struct {
	Topic     string           `json:"topic"`
	Sequence  message.Sequence `json:"sequence,string"`
	Timestamp time.Time        `json:"timestamp"`
}

func (t *Transport) publish(r *http.Request) handler.Response {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return response.Error(response.ErrUnsupportedMediaType.WithMessage("Content-Type must be application/json"))
		}
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return response.Error(response.ErrRequestEntityTooLarge.
				WithMessage(fmt.Sprintf("Request body too large. Maximum allowed: %d bytes", maxErr.Limit)))
		}
		return response.Error(response.ErrBadRequest.WithMessage("malformed JSON body").WithError(err))
	}

	if err := topic.ValidateTopic(req.Topic); err != nil {
		return response.Error(asHTTPError(err))
	}
	if topic.IsReserved(req.Topic) {
		return response.Error(response.ErrForbidden.
			WithCode(CodeReservedTopic).
			WithMessage(fmt.Sprintf("topics under %q are reserved", topic.ReservedPrefix)))
	}

	payload := []byte(req.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}

	e, err := t.broker.Publish(r.Context(), req.Topic, payload)
	if err != nil {
		t.opts.logger.WarnContext(r.Context(), "publish failed", logger.Topic(req.Topic), logger.Error(err))
		return response.Error(asHTTPError(err))
	}

	return response.JSONWithStatus(PublishResponse{
		Topic:     e.Topic(),
		Sequence:  e.Sequence,
		Timestamp: e.Sequence.Time().UTC(),
	}, http.StatusAccepted)
}
