package transport

import (
	"encoding/json"
	"net/http"

	"github.com/sunli829/bigjson/internal/patch"
)

// handleSSE streams patches at path as server-sent events, grounded on
// handler_sse.rs: an initial synthetic root-level Add carrying the current
// value, chained with every subsequent reprojected patch batch, until the
// client disconnects.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	path, err := parsePath(r.URL.Path, "/sse")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errStreamingUnsupported)
		return
	}

	sub, initial := s.svc.Subscribe(path)
	defer s.svc.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if !s.writeSSEEvent(w, []patch.Operation{{Op: patch.OpAdd, Value: initial}}) {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ops, ok := <-sub.C():
			if !ok {
				return
			}
			if !s.writeSSEEvent(w, ops) {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) writeSSEEvent(w http.ResponseWriter, ops []patch.Operation) bool {
	data, err := json.Marshal(ops)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal patch for sse event")
		return false
	}
	if _, err := w.Write([]byte("event: patch\ndata: ")); err != nil {
		return false
	}
	if _, err := w.Write(data); err != nil {
		return false
	}
	_, err = w.Write([]byte("\n\n"))
	return err == nil
}
