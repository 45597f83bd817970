package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/linkpass/server/internal/shortlink"
)

// ShortLinkHandler resolves compact sign-in link identifiers.
type ShortLinkHandler struct {
	links *shortlink.Service
	log   *zap.Logger
}

// NewShortLinkHandler creates a new short link handler
func NewShortLinkHandler(links *shortlink.Service, log *zap.Logger) *ShortLinkHandler {
	return &ShortLinkHandler{links: links, log: log}
}

type resolveResponse struct {
	Success bool   `json:"success"`
	FullURL string `json:"fullUrl"`
}

// HandleResolve handles GET /s/{shortId}. A browser gets a redirect to the
// full link; callers passing ?resolve=true get the URL as JSON instead so the
// mobile client can follow it in-app.
func (h *ShortLinkHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	shortID := chi.URLParam(r, "shortId")
	if shortID == "" {
		writeError(w, http.StatusNotFound, "link not found", "")
		return
	}

	fullURL, err := h.links.Resolve(r.Context(), shortID)
	if err != nil {
		if !errors.Is(err, shortlink.ErrNotFound) {
			h.log.Error("short link lookup failed", zap.Error(err))
		}
		// Expired and unknown look the same to the caller.
		writeError(w, http.StatusNotFound, "link not found", "")
		return
	}

	if r.URL.Query().Get("resolve") == "true" {
		writeJSON(w, http.StatusOK, resolveResponse{Success: true, FullURL: fullURL})
		return
	}

	http.Redirect(w, r, fullURL, http.StatusFound)
}
