package content

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/auth"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/content/entity"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/geo"
	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/utilities"
)

// denialMessages are the client facing texts per reason.
var denialMessages = map[DenialReason]string{
	ReasonUnpublished:          "this title is not available",
	ReasonNotPublic:            "this title is private",
	ReasonOutsideWindow:        "this title is not available at this time",
	ReasonGeoBlocked:           "this title is not available in your region",
	ReasonSubscriptionRequired: "a subscription is required to watch this title",
}

type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) request(r *http.Request) AccessRequest {
	req := AccessRequest{ContentID: r.PathValue("id"), Origin: geo.Origin{RemoteAddr: r.RemoteAddr, Header: r.Header}}
	if p, ok := auth.FromContext(r.Context()); ok {
		req.UserID = strconv.FormatInt(p.AccountID, 10)
	}
	return req
}

// Access reports whether the caller may watch the content right now.
func (h *Handler) Access(w http.ResponseWriter, r *http.Request) {
	_, d, err := h.svc.CheckAccess(r.Context(), h.request(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !d.Allowed {
		h.writeError(w, d.Err())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Playback resolves the stream bundle. Query parameters quality, format,
// subtitle and audio are optional; unknown quality or format values are
// rejected.
func (h *Handler) Playback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var prefs Preferences
	if v := q.Get("quality"); v != "" {
		quality, ok := entity.ParseQuality(v)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown quality"})
			return
		}
		prefs.Quality = quality
	}
	if v := q.Get("format"); v != "" {
		format, ok := entity.ParseFormat(v)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown format"})
			return
		}
		prefs.Format = format
	}
	prefs.SubtitleLang = q.Get("subtitle")
	prefs.AudioLang = q.Get("audio")

	b, err := h.svc.Playback(r.Context(), h.request(r), prefs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var denied *AccessDeniedError
	switch {
	case errors.As(err, &denied):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": denialMessages[denied.Reason], "reason": string(denied.Reason)})
	case errors.Is(err, ErrContentNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "content not found"})
	case errors.Is(err, ErrNoAssetAvailable):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no playable stream available"})
	case errors.Is(err, utilities.ErrDependencyUnavailable):
		h.logger.Warnw("content request failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable, retry later"})
	default:
		h.logger.Warnw("content request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "request failed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
