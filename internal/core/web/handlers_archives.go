package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/seckatie/pagetrail/internal/core"
	"github.com/seckatie/pagetrail/internal/core/db"
	"go.uber.org/zap"
)

// maxVisitsPageLimit caps the limit query parameter.
const maxVisitsPageLimit = 500

// handleListVisits serves one page of the visit log, newest first.
// Query: limit (default 50), before (Unix ms cursor, exclusive).
func (ws *Server) handleListVisits(w http.ResponseWriter, r *http.Request) {
	q := db.VisitsPageQuery{}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = min(limit, maxVisitsPageLimit)
	}
	if raw := r.URL.Query().Get("before"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms <= 0 {
			writeError(w, http.StatusBadRequest, "invalid before")
			return
		}
		q.Before = time.UnixMilli(ms)
	}

	page, err := ws.db.GetVisitsPage(q)
	if err != nil {
		ws.logger.Error("failed to list visits", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list visits")
		return
	}

	view := visitsPageView{Rows: page.Rows}
	if !page.NextBefore.IsZero() {
		view.NextBefore = page.NextBefore.UnixMilli()
	}
	writeJSON(w, http.StatusOK, view)
}

// handleListVersions lists the stored versions of one URL, newest first.
func (ws *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	versions, err := ws.db.GetVersionsByURLKey(core.URLKey(url))
	if err != nil {
		ws.logger.Error("failed to list versions", zap.String("url", url), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list versions")
		return
	}
	writeJSON(w, http.StatusOK, versionsView{URL: url, Versions: versions})
}

// handleGetVersion returns one version's metadata. The captured document is
// served separately by handleRawVersion.
func (ws *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := ws.loadVersion(w, r)
	if !ok {
		return
	}
	version.HTML = ""
	writeJSON(w, http.StatusOK, version)
}

// handleRawVersion serves the captured document as it was stored.
func (ws *Server) handleRawVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := ws.loadVersion(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", version.ContentType+"; charset=utf-8")
	// Archived pages are inert: no scripts, no same-origin access.
	w.Header().Set("Content-Security-Policy", "sandbox")
	if _, err := w.Write([]byte(version.HTML)); err != nil {
		ws.logger.Warn("failed to write archived html", zap.String("version_id", version.VersionID), zap.Error(err))
	}
}

func (ws *Server) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := ws.db.DeleteVersion(id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "version not found")
			return
		}
		ws.logger.Error("failed to delete version", zap.String("version_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete version")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadVersion fetches the version named by the {id} route parameter, writing
// the error response itself when it cannot.
func (ws *Server) loadVersion(w http.ResponseWriter, r *http.Request) (db.PageVersion, bool) {
	id := chi.URLParam(r, "id")
	version, err := ws.db.GetVersion(id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "version not found")
			return db.PageVersion{}, false
		}
		ws.logger.Error("failed to load version", zap.String("version_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load version")
		return db.PageVersion{}, false
	}
	return version, true
}
