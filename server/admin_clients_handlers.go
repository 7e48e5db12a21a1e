package server

import (
	"net/http"

	"github.com/jrsteele09/go-consent-server/clients"
)

const defaultClientPageSize = 100

func (s *Server) CreateClient() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c clients.Client
		if err := decodeJSON(w, r, &c); err != nil {
			writeJSONError(w, r, err)
			return
		}
		created, err := s.clients.Create(r.Context(), &c)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, created)
	}
}

// ListClients pages through clients with ?limit= and ?offset=.
func (s *Server) ListClients() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", defaultClientPageSize)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		list, err := s.clients.List(r.Context(), offset, limit)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		if list == nil {
			list = []*clients.Client{}
		}
		writeJSON(w, r, http.StatusOK, list)
	}
}

func (s *Server) GetClient() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := s.clients.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, c)
	}
}

// UpdateClient replaces a registration. The secret is rotated only when the body carries one.
func (s *Server) UpdateClient() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c clients.Client
		if err := decodeJSON(w, r, &c); err != nil {
			writeJSONError(w, r, err)
			return
		}
		updated, err := s.clients.Update(r.Context(), r.PathValue("id"), &c)
		if err != nil {
			writeJSONError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, updated)
	}
}

func (s *Server) DeleteClient() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.clients.Delete(r.Context(), r.PathValue("id")); err != nil {
			writeJSONError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
