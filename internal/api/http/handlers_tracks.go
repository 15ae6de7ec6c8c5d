package apihttp

import (
	"errors"
	"net/http"
	"strings"

	"swarmstream/internal/domain"
)

type tracksResponse struct {
	Ready     bool                `json:"ready"`
	Progress  float64             `json:"progress"`
	Audio     []domain.MediaTrack `json:"audio"`
	Subtitles []domain.MediaTrack `json:"subtitles"`
	Duration  float64             `json:"duration"`
}

// handleTracks reports the audio and subtitle streams of a file. Below the
// probe readiness floor it answers ready:false with the current progress;
// the client polls until the header bytes are on disk.
func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	if s.analyze == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "analyze use case not configured")
		return
	}
	id := domain.ContentID(strings.ToLower(r.PathValue("id")))
	filename := r.PathValue("filename")
	key := probeCacheKey{id: id, filename: filename}

	if info, ok := s.cachedProbe(key); ok {
		writeJSON(w, http.StatusOK, tracksResponse{
			Ready:     true,
			Progress:  1,
			Audio:     info.Audio,
			Subtitles: info.Subtitles,
			Duration:  info.Duration,
		})
		return
	}

	info, err := s.analyze.Execute(r.Context(), id, filename)
	if err != nil {
		var bufErr *domain.BufferingError
		if errors.As(err, &bufErr) {
			writeJSON(w, http.StatusOK, tracksResponse{
				Ready:     false,
				Progress:  bufErr.Progress,
				Audio:     []domain.MediaTrack{},
				Subtitles: []domain.MediaTrack{},
			})
			return
		}
		writeDomainError(w, err)
		return
	}

	s.storeProbe(key, info)
	writeJSON(w, http.StatusOK, tracksResponse{
		Ready:     true,
		Progress:  1,
		Audio:     info.Audio,
		Subtitles: info.Subtitles,
		Duration:  info.Duration,
	})
}
