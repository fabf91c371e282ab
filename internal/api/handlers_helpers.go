package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

var (
	errRateLimited  = errors.New("rate limit exceeded, please try again later")
	errUnauthorized = errors.New("missing or invalid bearer token")
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// parsePositiveIntParam parses a positive integer query parameter with a default value.
// Returns defaultVal if the parameter is missing, invalid, or not positive.
func parsePositiveIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

// parseBoolParam parses a boolean query parameter
func parseBoolParam(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// validateRequired checks that a required parameter is not empty.
// Returns true if valid, false if empty (and writes error response).
func validateRequired(w http.ResponseWriter, name, value string) bool {
	if value == "" {
		RespondBadRequest(w, fmt.Errorf("%s is required", name))
		return false
	}
	return true
}

// decodeJSONRequest decodes a JSON request body into v.
// Returns true if successful. If decoding fails, it writes the error response and returns false.
func decodeJSONRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		RespondBadRequest(w, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}
