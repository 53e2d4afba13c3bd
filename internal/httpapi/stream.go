package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"vendoraccess.org/internal/audit"
)

const streamHeartbeat = 15 * time.Second

// Stream handles Server-Sent Events for the live audit feed.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	var minSeverity audit.Severity
	if raw := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("min_severity"))); raw != "" {
		for _, s := range audit.Severities {
			if string(s) == raw {
				minSeverity = s
			}
		}
		if minSeverity == "" {
			writeError(w, r, http.StatusBadRequest, "unknown severity "+raw)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx, minSeverity)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: " + e.Action + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
