package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
	"github.com/rs/zerolog/hlog"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
	contentTypeHTML = "text/html; charset=utf-8"

	// maxBodyBytes caps admin request bodies.
	maxBodyBytes = 1 << 20
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("failed to write response body")
	}
}

// writeJSONError writes err as an OAuth2 error body. Anything that is not an
// *apperrors.Error becomes server_error and is logged.
func writeJSONError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperrors.ToError(err)
	logger := hlog.FromRequest(r)
	if e.StatusCode >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		logger.Debug().Str("error", e.Name).Str("hint", e.Hint).Str("path", r.URL.Path).Msg("request rejected")
	}
	body := *e
	body.Debug = ""
	if e.StatusCode == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+e.Name+`"`)
	}
	writeJSON(w, r, e.StatusCode, body)
}

func errorName(err error) string {
	return apperrors.ToError(err).Name
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return apperrors.ErrBadRequest.WithHint("The request body is not valid JSON.").WithDebug(err.Error())
	}
	return nil
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.ErrBadRequest.WithHintf("Query parameter '%s' must be a non-negative integer.", name)
	}
	return n, nil
}

func requireQuery(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", apperrors.ErrBadRequest.WithHintf("Query parameter '%s' is required.", name)
	}
	return v, nil
}
