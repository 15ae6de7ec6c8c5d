package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"swarmstream/internal/domain"
	domainports "swarmstream/internal/domain/ports"
	"swarmstream/internal/usecase"
)

type memStreamReader struct {
	*bytes.Reader
}

func (r *memStreamReader) Close() error               { return nil }
func (r *memStreamReader) SetContext(context.Context) {}
func (r *memStreamReader) SetReadahead(int64)         {}
func (r *memStreamReader) SetResponsive()             {}

type stubEngine struct{}

func (stubEngine) Open(context.Context, domain.TorrentSource) (domainports.Session, error) {
	return nil, domain.ErrNotFound
}
func (stubEngine) Get(context.Context, domain.ContentID) (domainports.Session, error) {
	return nil, domain.ErrNotFound
}
func (stubEngine) Remove(context.Context, domain.ContentID, bool) error { return nil }
func (stubEngine) Stats(context.Context, domain.ContentID) (domain.SwarmStats, error) {
	return domain.SwarmStats{}, domain.ErrNotFound
}
func (stubEngine) List(context.Context) []domain.ContentID { return nil }
func (stubEngine) Close() error                            { return nil }

type stubStream struct {
	content []byte
	name    string
	err     error
}

func (s *stubStream) Execute(context.Context, domain.ContentID, string) (usecase.StreamResult, error) {
	if s.err != nil {
		return usecase.StreamResult{}, s.err
	}
	return usecase.StreamResult{
		Reader:          &memStreamReader{bytes.NewReader(s.content)},
		File:            domain.FileRef{Path: s.name, Name: s.name, Length: int64(len(s.content))},
		ConsumptionRate: func() float64 { return 0 },
	}, nil
}

type stubAnalyze struct {
	info  domain.MediaInfo
	err   error
	calls int
}

func (s *stubAnalyze) Execute(context.Context, domain.ContentID, string) (domain.MediaInfo, error) {
	s.calls++
	return s.info, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStreamServer(t *testing.T, stream StreamFileUseCase, initial, maxChunk int64) *Server {
	t.Helper()
	srv := NewServer(stubEngine{}, nil,
		WithLogger(quietLogger()),
		WithStreamFile(stream, initial, maxChunk),
	)
	t.Cleanup(srv.Close)
	return srv
}

func streamContent(size int) []byte {
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i)
	}
	return content
}

func TestStreamFileNoRangeServesInitialChunk(t *testing.T) {
	content := streamContent(1000)
	srv := newStreamServer(t, &stubStream{content: content, name: "movie.mp4"}, 100, 200)

	req := httptest.NewRequest(http.MethodGet, "/streamfile/abc/movie.mp4", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-99/1000" {
		t.Fatalf("Content-Range = %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Fatalf("Content-Type = %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), content[:100]) {
		t.Fatal("body does not match the first chunk")
	}
}

func TestStreamFileBoundedRange(t *testing.T) {
	content := streamContent(1000)
	srv := newStreamServer(t, &stubStream{content: content, name: "movie.mp4"}, 100, 200)

	req := httptest.NewRequest(http.MethodGet, "/streamfile/abc/movie.mp4", nil)
	req.Header.Set("Range", "bytes=300-399")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 300-399/1000" {
		t.Fatalf("Content-Range = %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "100" {
		t.Fatalf("Content-Length = %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), content[300:400]) {
		t.Fatal("body does not match the requested window")
	}
}

func TestStreamFileClampsOpenEndedRange(t *testing.T) {
	content := streamContent(1000)
	srv := newStreamServer(t, &stubStream{content: content, name: "movie.mp4"}, 100, 200)

	req := httptest.NewRequest(http.MethodGet, "/streamfile/abc/movie.mp4", nil)
	req.Header.Set("Range", "bytes=0-")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	// An open-ended range is clamped to the chunk ceiling; the served
	// window and the Content-Range header must agree.
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-199/1000" {
		t.Fatalf("Content-Range = %q", got)
	}
	if got := rec.Body.Len(); got != 200 {
		t.Fatalf("body length = %d, want 200", got)
	}
}

func TestStreamFileRangePastEOF(t *testing.T) {
	srv := newStreamServer(t, &stubStream{content: streamContent(1000), name: "movie.mp4"}, 100, 200)

	req := httptest.NewRequest(http.MethodGet, "/streamfile/abc/movie.mp4", nil)
	req.Header.Set("Range", "bytes=5000-")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */1000" {
		t.Fatalf("Content-Range = %q", got)
	}
}

func TestStreamFileHeadReportsFullLength(t *testing.T) {
	srv := newStreamServer(t, &stubStream{content: streamContent(1000), name: "movie.mp4"}, 100, 200)

	req := httptest.NewRequest(http.MethodHead, "/streamfile/abc/movie.mp4", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Length"); got != "1000" {
		t.Fatalf("Content-Length = %q", got)
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("Accept-Ranges = %q", got)
	}
}

func TestStreamFileBufferingMapsTo503(t *testing.T) {
	srv := newStreamServer(t, &stubStream{err: &domain.BufferingError{Progress: 0.2}}, 100, 200)

	req := httptest.NewRequest(http.MethodGet, "/streamfile/abc/movie.mp4", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
}

func TestTracksBufferingAnswersNotReady(t *testing.T) {
	analyze := &stubAnalyze{err: &domain.BufferingError{Progress: 0.33}}
	srv := NewServer(stubEngine{}, nil, WithLogger(quietLogger()), WithAnalyzeFile(analyze))
	t.Cleanup(srv.Close)

	req := httptest.NewRequest(http.MethodGet, "/tracks/abc/movie.mkv", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body tracksResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Ready {
		t.Fatal("must report not ready while buffering")
	}
	if body.Progress != 0.33 {
		t.Fatalf("progress = %v", body.Progress)
	}
	if body.Audio == nil || body.Subtitles == nil {
		t.Fatal("track lists must be empty arrays, not null")
	}
}

func TestTracksReadyResultIsCached(t *testing.T) {
	analyze := &stubAnalyze{info: domain.MediaInfo{
		Audio:    []domain.MediaTrack{{Index: 0, Type: "audio", Codec: "aac"}},
		Duration: 3600,
	}}
	srv := NewServer(stubEngine{}, nil, WithLogger(quietLogger()), WithAnalyzeFile(analyze))
	t.Cleanup(srv.Close)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/tracks/abc/movie.mkv", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body tracksResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if !body.Ready || len(body.Audio) != 1 || body.Duration != 3600 {
			t.Fatalf("unexpected body: %+v", body)
		}
	}
	if analyze.calls != 1 {
		t.Fatalf("probe ran %d times, want 1 (second hit served from cache)", analyze.calls)
	}
}
