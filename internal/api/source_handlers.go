package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
)

const sourcesTimeout = 5 * time.Second

// SourceHandler manages configured calendar sources.
type SourceHandler struct {
	registry Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// NewSourceHandler wires the registry and logger.
func NewSourceHandler(registry Registry, logger *zap.Logger) *SourceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourceHandler{
		registry: registry,
		timeout:  sourcesTimeout,
		logger:   logger,
	}
}

type sourceRequest struct {
	Protocol   string `json:"protocol"`
	Location   string `json:"location"`
	Namespace  string `json:"namespace"`
	CalendarID string `json:"calendar_id"`
	Label      string `json:"label"`
	Enabled    *bool  `json:"enabled"`
	Trusted    bool   `json:"trusted"`
}

// List handles GET /v1/sources and returns {"sources": [...]}.
func (h *SourceHandler) List(w http.ResponseWriter, _ *http.Request) {
	sources := h.registry.Sources()
	if sources == nil {
		sources = []calendar.ExternalSource{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

// Add handles POST /v1/sources. It returns 201 with the stored source, 200
// when the source already exists, or 400 for invalid input.
func (h *SourceHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	src := calendar.ExternalSource{
		Protocol:   req.Protocol,
		Location:   req.Location,
		Namespace:  req.Namespace,
		CalendarID: req.CalendarID,
		Label:      req.Label,
		Enabled:    req.Enabled == nil || *req.Enabled,
		Trusted:    req.Trusted,
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	added, err := h.registry.AddSource(ctx, src)
	if err != nil {
		if calendar.KindOf(err) == calendar.KindMalformedIdentifier {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("add source failed", zap.String("id", src.ID()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to persist source")
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	stored := src
	for _, s := range h.registry.Sources() {
		if s.Key() == src.Key() {
			stored = s
			break
		}
	}
	writeJSON(w, status, map[string]any{"added": added, "source": stored})
}

// Remove handles DELETE /v1/sources?protocol=&location=.
func (h *SourceHandler) Remove(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	protocolName, loc := q.Get("protocol"), q.Get("location")
	if protocolName == "" || loc == "" {
		writeError(w, http.StatusBadRequest, "protocol and location are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	removed, err := h.registry.RemoveSource(ctx, protocolName, loc)
	if err != nil {
		h.logger.Error("remove source failed", zap.String("protocol", protocolName), zap.String("location", loc), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to persist sources")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
