package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sunli829/bigjson/internal/document"
	"github.com/sunli829/bigjson/internal/patch"
	"github.com/sunli829/bigjson/internal/pointer"
)

// handleData routes every /data request by method, mirroring the upstream
// server's one-route-per-verb handlers (handler_get.rs, handler_put.rs,
// handler_delete.rs, handler_patch.rs) collapsed onto a single net/http
// mux entry the way http.ServeMux dispatch naturally works in Go.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	path, err := parsePath(r.URL.Path, "/data")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, path)
	case http.MethodPost:
		s.handleAdd(w, r, path)
	case http.MethodPut:
		s.handleReplace(w, r, path)
	case http.MethodDelete:
		s.handleRemove(w, path)
	case http.MethodPatch:
		s.handlePatchBatch(w, r, path)
	default:
		w.Header().Set("Allow", "GET, POST, PUT, DELETE, PATCH")
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// handleGet returns the value at path, or 404 Not Found if path does not
// resolve.
func (s *Server) handleGet(w http.ResponseWriter, path pointer.Path) {
	value, err := s.svc.Get(path)
	if errors.Is(err, document.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	data, err := document.Encode(value)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request, path pointer.Path) {
	value, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.Add(path, value); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request, path pointer.Path) {
	value, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.Replace(path, value); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemove(w http.ResponseWriter, path pointer.Path) {
	if err := s.svc.Remove(path); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePatchBatch applies the request body, a JSON array of RFC-6902
// operations, as one transaction addressed relative to path as a prefix —
// the upstream server's handler_patch.rs, which normalizes an empty prefix
// to None rather than Some(root), has no effect here since
// internal/patch.Engine already treats a nil prefix as a no-op offset.
func (s *Server) handlePatchBatch(w http.ResponseWriter, r *http.Request, prefix pointer.Path) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var ops []patch.Operation
	if err := json.Unmarshal(body, &ops); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.Patch(prefix, ops); err != nil {
		if errors.Is(err, patch.ErrTestFailed) {
			writeError(w, http.StatusPreconditionFailed, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(r *http.Request) (document.Value, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return document.Value{}, err
	}
	return document.Decode(body)
}
