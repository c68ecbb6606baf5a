package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/store"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeData wraps v in the success envelope.
func writeData(w http.ResponseWriter, status int, v interface{}) {
	writeJSON(w, status, model.NewData(v))
}

// writeCode writes the uniform rejection envelope. The code carries its own
// transport status; no free-form message ever leaves the API.
func writeCode(w http.ResponseWriter, code model.ErrorCode) {
	writeJSON(w, code.HTTPStatus(), model.NewError(code))
}

// storeCode maps store sentinels to rejection codes. Unknown errors collapse
// to internal so storage details never reach callers.
func storeCode(err error) model.ErrorCode {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return model.CodeNotFound
	case errors.Is(err, store.ErrValidation):
		return model.CodeInvalidRequest
	default:
		return model.CodeInternal
	}
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryTime extracts an RFC 3339 query parameter. Returns the zero time if
// the parameter is missing or unparseable.
func queryTime(r *http.Request, key string) time.Time {
	val := r.URL.Query().Get(key)
	if val == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}
	}
	return t
}
