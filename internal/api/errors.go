package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/samcharles93/shardstream/internal/stage"
	"github.com/samcharles93/shardstream/internal/tensor"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps a generation error to an HTTP status and error body.
func classify(err error) (int, ErrorBody) {
	body := ErrorBody{Message: err.Error(), Type: "server_error"}
	var le *stage.LoadError
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, tensor.ErrShape):
		return http.StatusBadRequest, ErrorBody{Message: err.Error(), Type: "invalid_request_error"}
	case errors.As(err, &le):
		body.Type = "stage_load_error"
		body.Stage = le.Stage.String()
		body.Shard = le.Shard
		return http.StatusInternalServerError, body
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		body.Type = "unavailable_error"
		return http.StatusServiceUnavailable, body
	default:
		return http.StatusInternalServerError, body
	}
}
