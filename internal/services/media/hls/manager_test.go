package hls

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
	"swarmstream/internal/metrics"
)

const samplePlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:4.000000,
seg-00000.ts
#EXTINF:4.000000,
seg-00001.ts
#EXTINF:3.500000,
seg-00002.ts
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSegments(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("ts"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func runningProcess() *process {
	return &process{done: make(chan struct{}), cancel: func() {}}
}

func finishedProcess() *process {
	done := make(chan struct{})
	close(done)
	return &process{done: done, cancel: func() {}}
}

func TestOnDiskSegmentsStopAtFirstGap(t *testing.T) {
	dir := t.TempDir()
	// seg-00001.ts is missing, so the servable prefix ends after the
	// first segment even though seg-00002.ts exists.
	writeSegments(t, dir, "seg-00000.ts", "seg-00002.ts")

	ready := onDiskSegments(dir, []byte(samplePlaylist))
	if len(ready) != 1 {
		t.Fatalf("ready = %d segments, want 1", len(ready))
	}
	if ready[0].URI != "seg-00000.ts" {
		t.Fatalf("ready[0] = %q", ready[0].URI)
	}
}

func TestRenderManifestWhileEncoding(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte(samplePlaylist), 0o644); err != nil {
		t.Fatal(err)
	}
	writeSegments(t, dir, "seg-00000.ts", "seg-00001.ts")

	m := NewManager(Config{}, "", quietLogger())
	job := &Job{Key: "k", Dir: dir, proc: runningProcess()}

	out, err := m.renderManifest(job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	manifest := string(out)
	if !strings.Contains(manifest, "seg-00001.ts") {
		t.Fatal("manifest missing an on-disk segment")
	}
	if strings.Contains(manifest, "seg-00002.ts") {
		t.Fatal("manifest references a segment that is not on disk yet")
	}
	if strings.Contains(manifest, "#EXT-X-ENDLIST") {
		t.Fatal("a live manifest must not carry ENDLIST")
	}
}

func TestRenderManifestFinishedGetsEndlist(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte(samplePlaylist), 0o644); err != nil {
		t.Fatal(err)
	}
	writeSegments(t, dir, "seg-00000.ts", "seg-00001.ts", "seg-00002.ts")

	m := NewManager(Config{}, "", quietLogger())
	job := &Job{Key: "k", Dir: dir, proc: finishedProcess()}

	out, err := m.renderManifest(job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(out), "#EXT-X-ENDLIST") {
		t.Fatal("finished manifest must carry ENDLIST")
	}
}

func TestSegmentPath(t *testing.T) {
	dir := t.TempDir()
	writeSegments(t, dir, "seg-00000.ts")

	m := NewManager(Config{}, "", quietLogger())
	m.jobs.Store(jobKey("abc", "movie.mkv"), &Job{Dir: dir, proc: runningProcess()})

	if _, err := m.SegmentPath("abc", "movie.mkv", "../escape.ts"); err == nil {
		t.Fatal("traversal must be rejected")
	}
	if _, err := m.SegmentPath("abc", "movie.mkv", "a/b.ts"); err == nil {
		t.Fatal("separators must be rejected")
	}
	if _, err := m.SegmentPath("nope", "movie.mkv", "seg-00000.ts"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown job err = %v, want not found", err)
	}
	if _, err := m.SegmentPath("abc", "movie.mkv", "seg-00099.ts"); !errors.Is(err, ErrSegmentNotReady) {
		t.Fatalf("missing segment err = %v, want not ready", err)
	}
	p, err := m.SegmentPath("abc", "movie.mkv", "seg-00000.ts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != filepath.Join(dir, "seg-00000.ts") {
		t.Fatalf("path = %q", p)
	}
}

func TestStopFinishedJobLeavesActiveGaugeBalanced(t *testing.T) {
	m := NewManager(Config{Dir: t.TempDir()}, "", quietLogger())
	key := jobKey("abc", "movie.mkv")
	m.jobs.Store(key, &Job{Key: key, Dir: filepath.Join(m.cfg.Dir, key), proc: finishedProcess()})

	before := testutil.ToFloat64(metrics.HLSActiveJobs)
	m.Stop("abc")
	if got := testutil.ToFloat64(metrics.HLSActiveJobs); got != before {
		t.Fatalf("active jobs gauge moved from %v to %v", before, got)
	}
	if _, ok := m.jobs.Load(key); ok {
		t.Fatal("job survived Stop")
	}
}

func TestJobKeySanitizesFilename(t *testing.T) {
	if got := jobKey("abc", "Season 1/ep 01.mkv"); got != "abc.Season_1_ep_01.mkv" {
		t.Fatalf("jobKey = %q", got)
	}
}

type manifestSession struct {
	id    domain.ContentID
	files []domain.FileRef
}

func (s *manifestSession) ID() domain.ContentID                { return s.id }
func (s *manifestSession) Name() string                        { return "test" }
func (s *manifestSession) Ready() bool                         { return true }
func (s *manifestSession) AwaitMetadata(context.Context) error { return nil }
func (s *manifestSession) Files() []domain.FileRef             { return s.files }
func (s *manifestSession) FileByName(name string) (domain.FileRef, error) {
	for _, f := range s.files {
		if f.BaseName() == name {
			return f, nil
		}
	}
	return domain.FileRef{}, &domain.FileNotFoundError{Name: name}
}
func (s *manifestSession) SetPiecePriority(domain.FileRef, domain.Range, domain.Priority) {}
func (s *manifestSession) NewReader(domain.FileRef) (ports.StreamReader, error) {
	return nil, errors.New("not implemented")
}
func (s *manifestSession) AwaitBytes(ctx context.Context, _ domain.FileRef, _ int64) error {
	return ctx.Err()
}

func TestManifestBuffersBelowMinFraction(t *testing.T) {
	m := NewManager(Config{MinFraction: 0.1}, "", quietLogger())
	sess := &manifestSession{id: "abc", files: []domain.FileRef{
		{Path: "movie.mkv", Name: "movie.mkv", Length: 1000, BytesCompleted: 50},
	}}

	_, err := m.Manifest(context.Background(), sess, "movie.mkv")
	var buffering *domain.BufferingError
	if !errors.As(err, &buffering) {
		t.Fatalf("err = %v, want buffering", err)
	}
	if buffering.Progress != 0.05 {
		t.Fatalf("progress = %v", buffering.Progress)
	}
	// No job may be registered before the threshold.
	if _, ok := m.jobs.Load(jobKey("abc", "movie.mkv")); ok {
		t.Fatal("job registered while still buffering")
	}
}

func TestProcessProgressParsing(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	p := &process{done: make(chan struct{})}
	go p.parseProgress(r)

	if _, err := w.WriteString("frame=100\nout_time_us=12500000\nprogress=continue\n"); err != nil {
		t.Fatal(err)
	}
	w.Close()

	deadline := time.After(2 * time.Second)
	for p.Progress() < 12.5 {
		select {
		case <-deadline:
			t.Fatalf("progress = %v, want 12.5", p.Progress())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBuildArgsStreamCopy(t *testing.T) {
	m := NewManager(Config{AudioBitrate: "96k", SegmentDuration: 6}, "", quietLogger())
	args := strings.Join(m.buildArgs("in.mkv"), " ")

	for _, want := range []string{
		"-c:v copy",
		"-c:a aac",
		"-b:a 96k",
		"-hls_time 6",
		"-hls_playlist_type event",
		"-hls_segment_filename seg-%05d.ts",
	} {
		if !strings.Contains(args, want) {
			t.Fatalf("args missing %q: %s", want, args)
		}
	}
}
