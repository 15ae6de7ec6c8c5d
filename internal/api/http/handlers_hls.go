package apihttp

import (
	"errors"
	"net/http"
	"strings"

	"swarmstream/internal/domain"
	"swarmstream/internal/services/media/hls"
)

// handleHLS serves the filtered playlist under master.m3u8 and raw
// segments for everything else in the job directory.
func (s *Server) handleHLS(w http.ResponseWriter, r *http.Request) {
	if s.hls == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "hls service not configured")
		return
	}
	id := domain.ContentID(strings.ToLower(r.PathValue("id")))
	filename := r.PathValue("filename")
	segment := r.PathValue("segment")

	if segment == "master.m3u8" || segment == "index.m3u8" {
		sess, err := s.session(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		manifest, err := s.hls.Manifest(r.Context(), sess, filename)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(manifest)
		return
	}

	path, err := s.hls.SegmentPath(id, filename, segment)
	if err != nil {
		if errors.Is(err, hls.ErrSegmentNotReady) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "segment_not_ready", "segment not produced yet")
			return
		}
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, path)
}
