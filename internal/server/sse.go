package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/postfiatorg/validator-history-service/internal/events"
)

// sseKeepalive is how often a comment line is sent on an idle stream.
var sseKeepalive = 15 * time.Second

// handleEventStream handles GET /v1/events/stream. The optional topics
// query parameter is a comma-separated list of subject patterns;
// Last-Event-ID resumes from the hub's recent events.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var patterns []string
	for _, p := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	var after uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		after, _ = strconv.ParseUint(v, 10, 64)
	}

	sub := s.hub.Subscribe(patterns, after)
	defer s.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case rec := <-sub.C:
			writeSSE(w, rec)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, rec events.Record) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", rec.ID, rec.Topic, rec.Data)
}
