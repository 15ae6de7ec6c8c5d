package usecase

import (
	"context"
	"io"
	"path/filepath"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

// MediaProber analyzes a media file's container, either from a path on
// disk or from a stream.
type MediaProber interface {
	Probe(ctx context.Context, path string) (domain.MediaInfo, error)
	ProbeReader(ctx context.Context, reader io.Reader) (domain.MediaInfo, error)
}

// AnalyzeFile probes the audio and subtitle tracks of a torrent-backed
// file. The probe only runs once enough of the file's head is on disk for
// the container metadata to parse; before that the caller gets a
// buffering error with the current progress, and the head window is
// bumped in priority so a retry succeeds sooner.
type AnalyzeFile struct {
	Engine  ports.Engine
	Repo    ports.TorrentRepository
	Prober  MediaProber
	DataDir string
	// MinHeaderBytes and MinFraction define the readiness floor: the
	// smaller of the two (scaled to the file) must be downloaded.
	MinHeaderBytes int64
	MinFraction    float64
}

func (uc *AnalyzeFile) Execute(ctx context.Context, id domain.ContentID, filename string) (domain.MediaInfo, error) {
	session, err := resolveSession(ctx, uc.Engine, uc.Repo, id)
	if err != nil {
		return domain.MediaInfo{}, err
	}
	file, err := session.FileByName(filename)
	if err != nil {
		return domain.MediaInfo{}, err
	}

	need := uc.readinessFloor(file.Length)
	if file.BytesCompleted < need {
		session.SetPiecePriority(file, domain.Range{Off: 0, Length: need}, domain.PriorityHigh)
		return domain.MediaInfo{}, &domain.BufferingError{Progress: file.Progress()}
	}

	abs := filepath.Join(uc.DataDir, filepath.FromSlash(file.Path))
	if file.Progress() >= 1 {
		return uc.Prober.Probe(ctx, abs)
	}

	// A sparse partial download can hide streams from a path probe, so
	// incomplete files are probed through a torrent reader over the head
	// window that the readiness floor guarantees is downloaded.
	reader, err := session.NewReader(file)
	if err != nil {
		return uc.Prober.Probe(ctx, abs)
	}
	defer reader.Close()
	reader.SetContext(ctx)
	return uc.Prober.ProbeReader(ctx, io.LimitReader(reader, need))
}

func (uc *AnalyzeFile) readinessFloor(length int64) int64 {
	header := uc.MinHeaderBytes
	if header <= 0 {
		header = 16 << 20
	}
	fraction := uc.MinFraction
	if fraction <= 0 {
		fraction = 0.03
	}
	need := min64(header, int64(float64(length)*fraction))
	if need < 1 {
		need = 1
	}
	if need > length {
		need = length
	}
	return need
}
