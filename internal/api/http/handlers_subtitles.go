package apihttp

import (
	"net/http"
	"strconv"
	"strings"

	"swarmstream/internal/domain"
	"swarmstream/internal/metrics"
)

// handleSubtitle serves one track as WebVTT. Complete payloads are
// immutable and cacheable; partial ones must be revalidated since a
// background re-extraction replaces them.
func (s *Server) handleSubtitle(w http.ResponseWriter, r *http.Request) {
	if s.subs == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "subtitle service not configured")
		return
	}
	id := domain.ContentID(strings.ToLower(r.PathValue("id")))
	filename := r.PathValue("filename")
	track, err := strconv.Atoi(r.PathValue("track"))
	if err != nil || track < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid track index")
		return
	}

	sess, err := s.session(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := s.subs.Track(r.Context(), sess, filename, track)
	if err != nil {
		metrics.SubtitleExtractionsTotal.WithLabelValues("error").Inc()
		writeDomainError(w, err)
		return
	}
	if result.CacheHit {
		metrics.SubtitleCacheHitsTotal.Inc()
	} else {
		metrics.SubtitleExtractionsTotal.WithLabelValues("ok").Inc()
	}

	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.Header().Set("X-Subtitle-Source", result.SourceCodec)
	if result.State == domain.TrackComplete {
		w.Header().Set("Cache-Control", "public, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Payload)
}
