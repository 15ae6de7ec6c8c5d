package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"swarmstream/internal/domain"
)

type fileSummary struct {
	Name     string  `json:"name"`
	Length   int64   `json:"length"`
	Progress float64 `json:"progress"`
	Episode  int     `json:"episode,omitempty"`
	Language string  `json:"language,omitempty"`
}

type torrentSummary struct {
	ID    domain.ContentID `json:"id"`
	Name  string           `json:"name"`
	Files []fileSummary    `json:"files"`
}

func summarizeFiles(files []domain.FileRef) []fileSummary {
	out := make([]fileSummary, 0, len(files))
	for _, f := range files {
		summary := fileSummary{
			Name:     f.BaseName(),
			Length:   f.Length,
			Progress: f.Progress(),
		}
		if guess := domain.ParseEpisodeName(f.BaseName()); guess.Confident {
			summary.Episode = guess.Episode
			summary.Language = guess.Language
		}
		out = append(out, summary)
	}
	return out
}

// identifier accepts either an info-hash or a full magnet URI; magnets
// arrive URL-encoded in the path or via the magnet query parameter.
func requestIdentifier(r *http.Request) string {
	if m := strings.TrimSpace(r.URL.Query().Get("magnet")); m != "" {
		return m
	}
	return r.PathValue("id")
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	identifier := requestIdentifier(r)
	if _, err := domain.NormalizeSource(identifier); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	record, err := s.add.Execute(r.Context(), identifier)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "metadata_timeout", "metadata did not arrive in time")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, torrentSummary{
		ID:    record.ID,
		Name:  record.Name,
		Files: summarizeFiles(record.Files),
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	src, err := domain.NormalizeSource(requestIdentifier(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sess, err := s.engine.Open(r.Context(), src)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.metadataTimeout)
	defer cancel()
	if err := sess.AwaitMetadata(ctx); err != nil {
		writeError(w, http.StatusGatewayTimeout, "metadata_timeout", "metadata did not arrive in time")
		return
	}
	writeJSON(w, http.StatusOK, torrentSummary{
		ID:    sess.ID(),
		Name:  sess.Name(),
		Files: summarizeFiles(sess.Files()),
	})
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	id := domain.ContentID(strings.ToLower(r.PathValue("id")))
	stats, err := s.engine.Stats(r.Context(), id)
	if err == nil {
		writeJSON(w, http.StatusOK, stats)
		return
	}
	if !errors.Is(err, domain.ErrNotFound) || s.repo == nil {
		writeDomainError(w, err)
		return
	}
	// Inactive torrents still report their persisted progress.
	record, repoErr := s.repo.Get(r.Context(), id)
	if repoErr != nil {
		writeDomainError(w, repoErr)
		return
	}
	progress := 0.0
	if record.TotalBytes > 0 {
		progress = float64(record.DoneBytes) / float64(record.TotalBytes)
	}
	writeJSON(w, http.StatusOK, domain.SwarmStats{
		ID:         record.ID,
		Name:       record.Name,
		Length:     record.TotalBytes,
		Downloaded: record.DoneBytes,
		Progress:   progress,
		UpdatedAt:  record.UpdatedAt,
	})
}

func (s *Server) handleDetailsEpisode(w http.ResponseWriter, r *http.Request) {
	id := domain.ContentID(strings.ToLower(r.PathValue("id")))
	sess, err := s.session(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	file, err := sess.FileByName(r.PathValue("filename"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":           file.BaseName(),
		"length":         file.Length,
		"bytesCompleted": file.BytesCompleted,
		"progress":       file.Progress(),
	})
}

func (s *Server) handleDeselect(w http.ResponseWriter, r *http.Request) {
	id := domain.ContentID(strings.ToLower(r.PathValue("id")))
	sess, err := s.session(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	file, err := sess.FileByName(r.PathValue("filename"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sess.SetPiecePriority(file, domain.Range{Off: 0, Length: file.Length}, domain.PriorityNone)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deselected", "file": file.BaseName()})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if s.remove == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "remove use case not configured")
		return
	}
	id := domain.ContentID(strings.ToLower(r.PathValue("id")))
	// Detached context: removal proceeds even if the client goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 30*time.Second)
	defer cancel()
	if err := s.remove.Execute(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}
	s.invalidateProbes(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) invalidateProbes(id domain.ContentID) {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()
	for key := range s.probeCache {
		if key.id == id {
			delete(s.probeCache, key)
		}
	}
}
