package api

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, ErrorBody{Message: msg, Type: "invalid_request_error"})
}

func writeError(c *echo.Context, status int, body ErrorBody) error {
	return c.JSON(status, map[string]any{"error": body})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func newGenerationID() string {
	return "gen_" + uuid.NewString()
}
