package wasmstoreapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrInvalidJSON is returned when a payload that must be JSON is not.
var ErrInvalidJSON = errors.New("wasmstoreapi: invalid JSON payload")

// ExtractJSON validates a JSON response body and returns a trimmed copy. An
// empty body is reported as the JSON document null so callers always receive
// something json.Unmarshal accepts.
func ExtractJSON(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(trimmed) {
		return nil, ErrInvalidJSON
	}
	return append([]byte(nil), trimmed...), nil
}

// DecodeJSON decodes the JSON payload obtained via ExtractJSON into out.
func DecodeJSON(body []byte, out any) error {
	payload, err := ExtractJSON(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, out)
}

// ExtractText returns a plain-text body (hashes) without surrounding
// whitespace. The server terminates some responses with a newline.
func ExtractText(body []byte) string {
	return strings.TrimSpace(string(body))
}
