package server

import (
	"net/http"

	"github.com/go-jose/go-jose/v4"
	apperrors "github.com/jrsteele09/go-consent-server/internal/errors"
)

// createKeySetBody is the body of POST /keys/{set}.
type createKeySetBody struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
	Use       string `json:"use"`
}

// CreateKeySet generates a key and adds it to the set.
func (s *Server) CreateKeySet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createKeySetBody
		if err := decodeJSON(w, r, &body); err != nil {
			writeJSONError(w, r, err)
			return
		}
		if body.Algorithm == "" {
			writeJSONError(w, r, apperrors.ErrBadRequest.WithHint("Field 'alg' is required."))
			return
		}
		set := r.PathValue("set")
		keys, err := s.keys.CreateKeySet(r.Context(), set, body.Algorithm, body.KeyID, body.Use)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		s.metrics.observeKeyOperation(set, "create")
		writeJSON(w, r, http.StatusCreated, keys)
	}
}

func (s *Server) GetKeySet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := s.keys.GetKeySet(r.Context(), r.PathValue("set"))
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, keys)
	}
}

// UpdateKeySet replaces every key of the set.
func (s *Server) UpdateKeySet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body jose.JSONWebKeySet
		if err := decodeJSON(w, r, &body); err != nil {
			writeJSONError(w, r, err)
			return
		}
		set := r.PathValue("set")
		keys, err := s.keys.UpdateKeySet(r.Context(), set, &body)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		s.metrics.observeKeyOperation(set, "update_set")
		writeJSON(w, r, http.StatusOK, keys)
	}
}

func (s *Server) DeleteKeySet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set := r.PathValue("set")
		if err := s.keys.DeleteKeySet(r.Context(), set); err != nil {
			writeJSONError(w, r, err)
			return
		}
		s.metrics.observeKeyOperation(set, "delete_set")
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) GetKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := s.keys.GetKey(r.Context(), r.PathValue("set"), r.PathValue("kid"))
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, keys)
	}
}

func (s *Server) UpdateKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body jose.JSONWebKey
		if err := decodeJSON(w, r, &body); err != nil {
			writeJSONError(w, r, err)
			return
		}
		set := r.PathValue("set")
		keys, err := s.keys.UpdateKey(r.Context(), set, r.PathValue("kid"), &body)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		s.metrics.observeKeyOperation(set, "update")
		writeJSON(w, r, http.StatusOK, keys)
	}
}

func (s *Server) DeleteKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set := r.PathValue("set")
		if err := s.keys.DeleteKey(r.Context(), set, r.PathValue("kid")); err != nil {
			writeJSONError(w, r, err)
			return
		}
		s.metrics.observeKeyOperation(set, "delete")
		w.WriteHeader(http.StatusNoContent)
	}
}
