package downloader

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const ndjsonContentType = "application/x-ndjson"

// Handler exposes the transport surface over HTTP using go-chi.
type Handler struct {
	orc *Orchestrator
	log *slog.Logger
}

// NewHandler returns a Handler driving the given orchestrator.
func NewHandler(orc *Orchestrator, log *slog.Logger) *Handler {
	return &Handler{orc: orc, log: log}
}

// Routes returns a standalone router with the handler's route tree.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// Register attaches the handler's routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/downloads", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Route("/{token}", func(r chi.Router) {
			r.Get("/renditions", h.Renditions)
			r.Post("/select", h.Select)
			r.Post("/fallback", h.Fallback)
			r.Post("/cancel", h.Cancel)
		})
	})
	r.Route("/history/{owner}", func(r chi.Router) {
		r.Get("/", h.History)
		r.Delete("/", h.ClearHistory)
		r.Get("/stats", h.Stats)
	})
}

type submitRequest struct {
	OwnerID string `json:"owner_id"`
	URL     string `json:"url"`
}

type submitResponse struct {
	Token           Token    `json:"token"`
	Title           string   `json:"title"`
	DurationSeconds int      `json:"duration_seconds"`
	Platform        Platform `json:"platform"`
}

// Submit handles POST /downloads.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "owner_id and url are required")
		return
	}

	sess, err := h.orc.Submit(r.Context(), Identity(req.OwnerID), req.URL)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitResponse{
		Token:           sess.Token(),
		Title:           sess.Title(),
		DurationSeconds: sess.DurationSeconds(),
		Platform:        sess.Platform(),
	})
}

// Renditions handles GET /downloads/{token}/renditions.
func (h *Handler) Renditions(w http.ResponseWriter, r *http.Request) {
	token := Token(chi.URLParam(r, "token"))
	renditions, err := h.orc.Renditions(token)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renditions)
}

type selectRequest struct {
	OwnerID  string `json:"owner_id"`
	FormatID string `json:"format_id"`
}

// Select handles POST /downloads/{token}/select. The response is a stream
// of NDJSON events culminating in a terminal status (or a fallback offer).
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	token := Token(chi.URLParam(r, "token"))
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" || req.FormatID == "" {
		writeError(w, http.StatusBadRequest, "owner_id and format_id are required")
		return
	}

	events, err := h.orc.Select(r.Context(), Identity(req.OwnerID), token, req.FormatID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.streamEvents(w, events)
}

type fallbackRequest struct {
	OwnerID string `json:"owner_id"`
	Choice  string `json:"choice"`
}

// Fallback handles POST /downloads/{token}/fallback with choice "link" or
// "split".
func (h *Handler) Fallback(w http.ResponseWriter, r *http.Request) {
	token := Token(chi.URLParam(r, "token"))
	var req fallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id and choice are required")
		return
	}
	choice := FallbackChoice(req.Choice)
	if choice != ChoiceDirectLink && choice != ChoiceSplit {
		writeError(w, http.StatusBadRequest, "choice must be \"link\" or \"split\"")
		return
	}

	events, err := h.orc.Fallback(r.Context(), Identity(req.OwnerID), token, choice)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.streamEvents(w, events)
}

// Cancel handles POST /downloads/{token}/cancel. Always acknowledged.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	token := Token(chi.URLParam(r, "token"))
	h.orc.Cancel(token)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// History handles GET /history/{owner}?platform=&limit=. limit=0 exports the
// full history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	owner := Identity(chi.URLParam(r, "owner"))
	platform := Platform(r.URL.Query().Get("platform"))
	limit := 10
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.orc.history.List(r.Context(), owner, platform, limit)
	if err != nil {
		h.log.Error("history list failed", slog.String("owner", string(owner)), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ClearHistory handles DELETE /history/{owner}.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	owner := Identity(chi.URLParam(r, "owner"))
	if err := h.orc.history.Clear(r.Context(), owner); err != nil {
		h.log.Error("history clear failed", slog.String("owner", string(owner)), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type statsResponse struct {
	TotalDownloads int              `json:"total_downloads"`
	PerPlatform    map[Platform]int `json:"per_platform"`
}

// Stats handles GET /history/{owner}/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	owner := Identity(chi.URLParam(r, "owner"))
	total, perPlatform, err := h.orc.history.Stats(r.Context(), owner)
	if err != nil {
		h.log.Error("stats failed", slog.String("owner", string(owner)), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{TotalDownloads: total, PerPlatform: perPlatform})
}

// streamEvents writes each event as one NDJSON line, flushing between
// events. The channel is always drained to completion so the state-machine
// goroutine never blocks on a gone client.
func (h *Handler) streamEvents(w http.ResponseWriter, events <-chan Event) {
	w.Header().Set("Content-Type", ndjsonContentType)
	w.WriteHeader(http.StatusOK)

	fl, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			h.log.Debug("event stream write failed", slog.String("error", err.Error()))
			continue
		}
		if fl != nil {
			fl.Flush()
		}
	}
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please wait an hour before downloading more.")
	case errors.Is(err, ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "Unsupported URL. Use YouTube, Instagram, Twitter, TikTok, or Vimeo.")
	case errors.Is(err, ErrSessionExpired):
		writeError(w, http.StatusGone, "Session expired. Please send the URL again.")
	case errors.Is(err, ErrUnknownFormat):
		writeError(w, http.StatusBadRequest, "Unknown format id for this session.")
	case errors.Is(err, ErrSelectionInProgress):
		writeError(w, http.StatusConflict, "An operation is already in progress for this session.")
	case errors.Is(err, ErrNoPendingChoice):
		writeError(w, http.StatusConflict, "No fallback choice is pending for this session.")
	case errors.Is(err, ErrDiscoveryFailed):
		writeError(w, http.StatusBadGateway, userMessage(err))
	default:
		h.log.Error("unexpected service error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
