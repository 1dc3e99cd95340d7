package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// RecentEvents is the in-memory tail kept by the journal recorder.
type RecentEvents interface {
	Recent(kind domain.EventKind, n int) []domain.Event
}

// EventHandler serves the event journal. It reads the durable journal when
// one is configured and falls back to the in-memory tail otherwise.
type EventHandler struct {
	journal domain.JournalStore
	recent  RecentEvents
	logger  *slog.Logger
}

// NewEventHandler creates an EventHandler. journal may be nil.
func NewEventHandler(journal domain.JournalStore, recent RecentEvents, logger *slog.Logger) *EventHandler {
	return &EventHandler{journal: journal, recent: recent, logger: logger}
}

type listEventsResponse struct {
	Events []domain.Event `json:"events"`
}

// ListEvents returns events newest first, optionally filtered by ?kind=.
// GET /api/events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	kind := domain.EventKind(r.URL.Query().Get("kind"))
	opts := parseListOpts(r)

	var events []domain.Event
	if h.journal != nil {
		var err error
		events, err = h.journal.List(r.Context(), kind, opts)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list events failed",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list events")
			return
		}
	} else {
		events = h.recent.Recent(kind, opts.Offset+opts.Limit)
		if opts.Offset < len(events) {
			events = events[opts.Offset:]
		} else {
			events = nil
		}
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}
