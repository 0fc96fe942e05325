package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// maxBodySize caps request bodies to prevent memory exhaustion.
const maxBodySize = 1 << 20 // 1MB

// errorBody is the JSON error envelope returned for failed requests.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusForKind maps an error kind to its HTTP status code.
func statusForKind(kind types.ErrorKind) int {
	switch kind {
	case types.KindInvalidInput, types.KindSecurityViolation:
		return http.StatusBadRequest
	case types.KindUnauthenticated:
		return http.StatusUnauthorized
	case types.KindForbidden:
		return http.StatusForbidden
	case types.KindNotFound, types.KindElementNotFound, types.KindPageGone:
		return http.StatusNotFound
	case types.KindConflict:
		return http.StatusConflict
	case types.KindResourceExhausted:
		return http.StatusTooManyRequests
	case types.KindCircuitOpen, types.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v through a pooled buffer so a mid-encode failure cannot
// corrupt an already-started response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		http.Error(w, `{"error":"Internal error","kind":"INTERNAL"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

// writeErr translates a service error into its transport status and envelope.
func writeErr(w http.ResponseWriter, err error) {
	kind := types.KindOf(err)
	writeJSON(w, statusForKind(kind), errorBody{Error: err.Error(), Kind: string(kind)})
}

// writeBadRequest reports a malformed or invalid request.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: message, Kind: string(types.KindInvalidInput)})
}

// decodeJSON reads the request body through a pooled buffer into dst.
func decodeJSON(r *http.Request, dst any) error {
	buf := getBuffer()
	defer putBuffer(buf)

	limited := http.MaxBytesReader(nil, r.Body, maxBodySize)
	if _, err := io.Copy(buf, limited); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return err
	}
	if buf.Len() == 0 {
		return errors.New("empty request body")
	}
	dec := json.NewDecoder(buf)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
