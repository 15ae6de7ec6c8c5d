package apihttp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"swarmstream/internal/domain"
	"swarmstream/internal/metrics"
)

func (s *Server) handleStreamFile(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "stream use case not configured")
		return
	}
	id := domain.ContentID(strings.ToLower(r.PathValue("id")))
	filename := r.PathValue("filename")

	result, err := s.stream.Execute(r.Context(), id, filename)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer result.Reader.Close()
	// The reader must block until pieces arrive. A responsive reader
	// returns early EOFs on missing pieces, which io.Copy would treat as
	// the end of the file and silently truncate the stream.

	ext := strings.ToLower(path.Ext(result.File.Path))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = fallbackContentType(ext)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	// Keep-alive would pin the torrent reader open after the player
	// stops; close instead.
	w.Header().Set("Connection", "close")

	size := result.File.Length

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	start, end, err := s.resolveWindow(r.Header.Get("Range"), size)
	if errors.Is(err, errInvalidRange) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid range")
		return
	}
	if errors.Is(err, errRangeNotSatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if _, err := result.Reader.Seek(start, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to seek stream")
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)

	written, err := io.CopyN(w, result.Reader, length)
	metrics.StreamBytesTotal.Add(float64(written))
	if err != nil {
		// Headers are long gone; all we can do is log and let the
		// connection drop.
		s.logger.Debug("stream copy interrupted",
			slog.String("id", string(id)),
			slog.String("filename", filename),
			slog.Int64("written", written),
			slog.Float64("readRate", result.ConsumptionRate()),
			slog.Any("error", err),
		)
	}
}

// resolveWindow turns the Range header into the byte window actually
// served. A missing header gets the initial chunk from offset zero so the
// player can start probing immediately; an open-ended or oversized range
// is clamped to the chunk ceiling. The client keeps re-requesting with
// fresh ranges as it consumes.
func (s *Server) resolveWindow(rangeHeader string, size int64) (int64, int64, error) {
	if rangeHeader == "" {
		end := s.initialChunkBytes - 1
		if end > size-1 {
			end = size - 1
		}
		if end < 0 {
			return 0, 0, errRangeNotSatisfiable
		}
		return 0, end, nil
	}
	start, end, err := parseByteRange(rangeHeader, size)
	if err != nil {
		return 0, 0, err
	}
	if length := end - start + 1; length > s.maxChunkBytes {
		end = start + s.maxChunkBytes - 1
	}
	return start, end, nil
}
