package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chis/regview/internal/events"
	"github.com/chis/regview/internal/output"
	"github.com/chis/regview/internal/registry"
)

// handleHealth returns liveness information.
// GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	RespondSuccess(w, map[string]any{
		"status":  "ok",
		"version": output.Version,
	})
}

// GET /api/registries
func (s *Server) handleRegistriesList(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.Registries(r.Context())
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondSuccess(w, list)
}

// POST /api/registries
func (s *Server) handleRegistriesAdd(w http.ResponseWriter, r *http.Request) {
	var d registry.Descriptor
	if !decodeJSONRequest(w, r, &d) {
		return
	}
	added, err := s.service.AddRegistry(r.Context(), d)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondCreated(w, added)
}

// DELETE /api/registries/{id}
func (s *Server) handleRegistriesRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.RemoveRegistry(r.Context(), id); err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondSuccess(w, map[string]any{"id": id, "removed": true})
}

// handleImages aggregates a registry. ?sort=name orders by repository name;
// ?cached=true serves the latest background scan when one exists.
// GET /api/registries/{id}/images
func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sortByName := r.URL.Query().Get("sort") == "name"

	if parseBoolParam(r, "cached") && s.refresher != nil {
		if entry, ok := s.refresher.Latest(id); ok && entry.Error == "" {
			w.Header().Set("X-Scanned-At", entry.ScannedAt.UTC().Format(time.RFC3339))
			RespondSuccess(w, entry.Summaries)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), ScanTimeout)
	defer cancel()

	summaries, err := s.service.Images(ctx, id, sortByName)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondSuccess(w, summaries)
}

// handleTestConnection always answers 200 for a known registry; the report
// carries the outcome.
// POST /api/registries/{id}/test
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), ProbeTimeout)
	defer cancel()

	report, err := s.service.Probe(ctx, r.PathValue("id"))
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondSuccess(w, report)
}

// DELETE /api/registries/{id}/images/{repo...}?tag=
func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	repo := r.PathValue("repo")
	tag := r.URL.Query().Get("tag")
	if !validateRequired(w, "repository", repo) || !validateRequired(w, "tag", tag) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DeleteTimeout)
	defer cancel()

	dgst, err := s.service.DeleteTag(ctx, id, repo, tag)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondSuccess(w, map[string]any{
		"repository": repo,
		"tag":        tag,
		"digest":     dgst.String(),
	})
}

// GET /api/registries/{id}/history?limit=
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveIntParam(r, "limit", DefaultHistoryLimit)
	records, err := s.service.ScanHistory(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondSuccess(w, records)
}

// handleEvents streams bus events as Server-Sent Events.
// GET /api/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.eventBus == nil {
		RespondError(w, http.StatusNotImplemented, fmt.Errorf("event stream not available"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		RespondInternalError(w, fmt.Errorf("streaming not supported: %w", err))
		return
	}
	// Long-lived stream; the server write timeout must not cut it.
	_ = rc.SetWriteDeadline(time.Time{})

	eventChan, unsubscribe := s.eventBus.Subscribe(events.Wildcard)
	defer unsubscribe()

	ctx := r.Context()
	s.logger.DebugContext(ctx, "SSE client connected")

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	rc.Flush()

	heartbeat := time.NewTicker(SSEHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.DebugContext(ctx, "SSE client disconnected")
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			rc.Flush()
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				s.logger.WarnContext(ctx, "Error marshaling event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			rc.Flush()
			heartbeat.Reset(SSEHeartbeatInterval)
		}
	}
}
