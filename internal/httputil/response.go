package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
)

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode JSON response", "error", err)
	}
}

// WriteError writes a JSON error body {"error": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// DecodeJSON decodes the request body into dst, enforcing maxBytes. The
// returned error is suitable for echoing to the client.
func DecodeJSON(r *http.Request, dst any, maxBytes int64) error {
	body := http.MaxBytesReader(nil, r.Body, maxBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body contains more than one JSON document")
	}
	_, _ = io.Copy(io.Discard, body)
	return nil
}

// ParseIntParam parses an integer query parameter, falling back to
// defaultVal when the parameter is empty or not a number.
func ParseIntParam(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return defaultVal
}
