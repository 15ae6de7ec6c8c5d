package usecase

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

type stubProber struct {
	info     domain.MediaInfo
	err      error
	probed   []string
	streamed int
}

func (p *stubProber) Probe(_ context.Context, path string) (domain.MediaInfo, error) {
	p.probed = append(p.probed, path)
	return p.info, p.err
}

func (p *stubProber) ProbeReader(_ context.Context, _ io.Reader) (domain.MediaInfo, error) {
	p.streamed++
	return p.info, p.err
}

func TestAnalyzeFileBuffersBelowFloor(t *testing.T) {
	file := domain.FileRef{Index: 0, Path: "movie.mkv", Name: "movie.mkv", Length: 1 << 30, BytesCompleted: 1 << 20}
	sess := &fakeStreamSession{id: "abc", files: []domain.FileRef{file}}
	engine := &fakeEngine{sessions: map[domain.ContentID]ports.Session{"abc": sess}}
	prober := &stubProber{}

	uc := &AnalyzeFile{Engine: engine, Prober: prober, DataDir: "data"}
	_, err := uc.Execute(context.Background(), "abc", "movie.mkv")

	var buffering *domain.BufferingError
	if !errors.As(err, &buffering) {
		t.Fatalf("err = %v, want buffering", err)
	}
	if buffering.Progress <= 0 || buffering.Progress >= 1 {
		t.Fatalf("progress = %v", buffering.Progress)
	}
	if len(prober.probed) != 0 {
		t.Fatal("probe must not run before the readiness floor")
	}
	// The head window gets bumped so a retry succeeds sooner.
	if _, ok := findCall(sess.calls, domain.PriorityHigh, 0); !ok {
		t.Fatal("head window not prioritized while buffering")
	}
}

func TestAnalyzeFilePartialDownloadProbesThroughReader(t *testing.T) {
	file := domain.FileRef{Index: 0, Path: "show/movie.mkv", Name: "movie.mkv", Length: 1 << 30, BytesCompleted: 64 << 20}
	reader := &fakeStreamReader{}
	sess := &fakeStreamSession{id: "abc", files: []domain.FileRef{file}, reader: reader}
	engine := &fakeEngine{sessions: map[domain.ContentID]ports.Session{"abc": sess}}
	prober := &stubProber{info: domain.MediaInfo{
		Audio:    []domain.MediaTrack{{Index: 0, Type: "audio", Codec: "aac"}},
		Duration: 5400,
	}}

	uc := &AnalyzeFile{Engine: engine, Prober: prober, DataDir: "data"}
	info, err := uc.Execute(context.Background(), "abc", "movie.mkv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(info.Audio) != 1 || info.Duration != 5400 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if prober.streamed != 1 {
		t.Fatalf("stream probe called %d times, want 1", prober.streamed)
	}
	if len(prober.probed) != 0 {
		t.Fatalf("path probe ran on an incomplete file: %v", prober.probed)
	}
	if !reader.closed {
		t.Fatal("probe reader was not closed")
	}
}

func TestAnalyzeFileCompleteFileProbesByPath(t *testing.T) {
	file := domain.FileRef{Index: 0, Path: "show/movie.mkv", Name: "movie.mkv", Length: 1 << 30, BytesCompleted: 1 << 30}
	sess := &fakeStreamSession{id: "abc", files: []domain.FileRef{file}}
	engine := &fakeEngine{sessions: map[domain.ContentID]ports.Session{"abc": sess}}
	prober := &stubProber{info: domain.MediaInfo{Duration: 5400}}

	uc := &AnalyzeFile{Engine: engine, Prober: prober, DataDir: "data"}
	if _, err := uc.Execute(context.Background(), "abc", "movie.mkv"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prober.streamed != 0 {
		t.Fatalf("stream probe ran on a complete file")
	}
	want := filepath.Join("data", filepath.FromSlash("show/movie.mkv"))
	if len(prober.probed) != 1 || prober.probed[0] != want {
		t.Fatalf("path probe calls = %v, want [%s]", prober.probed, want)
	}
}

func TestAnalyzeFileReadinessFloor(t *testing.T) {
	uc := &AnalyzeFile{MinHeaderBytes: 16 << 20, MinFraction: 0.03}
	cases := []struct {
		length int64
		want   int64
	}{
		// 3% of a 100MiB file is smaller than the 16MiB header floor.
		{100 << 20, int64(float64(100<<20) * 0.03)},
		// Large files clamp to the header size.
		{10 << 30, 16 << 20},
		// Tiny files still need at least one byte on disk.
		{10, 1},
		{0, 0},
	}
	for _, tc := range cases {
		if got := uc.readinessFloor(tc.length); got != tc.want {
			t.Fatalf("readinessFloor(%d) = %d, want %d", tc.length, got, tc.want)
		}
	}
}
