package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/metrics"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// handleExecute runs one action against a page. Action-level failures are
// reported inside the result with a 200; HTTP errors are reserved for
// resolution and authorization failures.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sessionID := pathID(w, r, "sessionID")
	if sessionID == "" {
		return
	}
	contextID := pathID(w, r, "contextID")
	if contextID == "" {
		return
	}
	pageID := pathID(w, r, "pageID")
	if pageID == "" {
		return
	}

	var act types.Action
	if err := decodeJSON(r, &act); err != nil {
		writeBadRequest(w, "invalid action body: "+err.Error())
		return
	}
	if act.Kind == "" {
		writeBadRequest(w, "action type is required")
		return
	}

	res, err := s.svc.Execute(r.Context(), sessionID, contextID, pageID, &act)
	if err != nil {
		writeErr(w, err)
		return
	}

	metrics.RecordAction(act.Family(), res.Success, string(res.ErrorKind),
		time.Duration(res.DurationMs)*time.Millisecond)
	writeJSON(w, http.StatusOK, res)
}

// handleEvents streams bus events as server-sent events. The optional topics
// query parameter is a comma-separated topic filter.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError,
			errorBody{Error: "streaming unsupported", Kind: string(types.KindInternal)})
		return
	}

	var topics []string
	if raw := r.URL.Query().Get("topics"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}

	events, cancel := s.svc.Subscribe(topics, 64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Debug().Err(err).Msg("Failed to marshal bus event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Topic, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
