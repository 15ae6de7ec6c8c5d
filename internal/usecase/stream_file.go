package usecase

import (
	"context"
	"errors"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

const (
	defaultStreamReadahead         = 16 << 20
	priorityWindowMultiplier int64 = 4
	minPriorityWindowBytes   int64 = 32 << 20
	maxPriorityWindowBytes   int64 = 256 << 20

	// Players seek to the end of the container first for metadata (MP4
	// moov atom, MKV SeekHead/Cues), so the tail is preloaded.
	tailPreloadBytes int64 = 16 << 20
)

func streamPriorityWindow(readahead, fileLength int64) int64 {
	if readahead <= 0 {
		readahead = defaultStreamReadahead
	}
	window := readahead * priorityWindowMultiplier
	if window < minPriorityWindowBytes {
		window = minPriorityWindowBytes
	}
	// Large files get a window proportional to their size.
	if fileLength > 0 {
		scaled := fileLength / 100
		if scaled > window {
			window = scaled
		}
	}
	if window > maxPriorityWindowBytes {
		window = maxPriorityWindowBytes
	}
	return window
}

type StreamResult struct {
	Reader ports.StreamReader
	File   domain.FileRef
	// ConsumptionRate reports the smoothed consumer read rate in
	// bytes per second.
	ConsumptionRate func() float64
}

// StreamFile opens a prioritized reader over one file of a swarm, reviving
// the swarm from its persisted record when it is not currently active.
type StreamFile struct {
	Engine         ports.Engine
	Repo           ports.TorrentRepository
	ReadaheadBytes int64
}

func (uc *StreamFile) Execute(ctx context.Context, id domain.ContentID, filename string) (StreamResult, error) {
	session, err := resolveSession(ctx, uc.Engine, uc.Repo, id)
	if err != nil {
		return StreamResult{}, err
	}

	file, err := session.FileByName(filename)
	if err != nil {
		return StreamResult{}, err
	}

	focusFile(session, file)

	readahead := uc.ReadaheadBytes
	if readahead <= 0 {
		readahead = defaultStreamReadahead
	}
	window := streamPriorityWindow(readahead, file.Length)
	applyStartupGradient(session, file, window)

	if file.Length > tailPreloadBytes*2 {
		session.SetPiecePriority(file,
			domain.Range{Off: file.Length - tailPreloadBytes, Length: tailPreloadBytes},
			domain.PriorityReadahead)
	}

	reader, err := session.NewReader(file)
	if err != nil {
		return StreamResult{}, wrapEngine(err)
	}

	spr := newSlidingPriorityReader(reader, session, file, readahead, window)
	spr.SetContext(ctx)
	// Readahead matches the priority window so pieces are requested well
	// ahead of the playback position.
	spr.SetReadahead(window)

	return StreamResult{
		Reader:          spr,
		File:            file,
		ConsumptionRate: spr.EffectiveBytesPerSec,
	}, nil
}

// ResolveSession finds the active session for id, re-opening the swarm
// from its persisted record when the registry lost it (typically after a
// restart). An id that was never added is opened on the fly from its
// info-hash.
func ResolveSession(ctx context.Context, engine ports.Engine, repo ports.TorrentRepository, id domain.ContentID) (ports.Session, error) {
	return resolveSession(ctx, engine, repo, id)
}

func resolveSession(ctx context.Context, engine ports.Engine, repo ports.TorrentRepository, id domain.ContentID) (ports.Session, error) {
	if engine == nil {
		return nil, errors.New("engine not configured")
	}
	session, err := engine.Get(ctx, id)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, wrapEngine(err)
	}
	var magnet string
	if repo != nil {
		record, repoErr := repo.Get(ctx, id)
		switch {
		case repoErr == nil:
			magnet = record.Magnet
		case !errors.Is(repoErr, domain.ErrNotFound):
			return nil, wrapRepo(repoErr)
		}
	}
	if magnet == "" {
		// No persisted record either. The id is an info-hash, so the
		// swarm can still be added on the fly.
		src, srcErr := domain.NormalizeSource(string(id))
		if srcErr != nil {
			return nil, domain.ErrNotFound
		}
		magnet = src.Magnet
	}
	session, err = engine.Open(ctx, domain.TorrentSource{Magnet: magnet})
	if err != nil {
		return nil, wrapEngine(err)
	}
	if err := session.AwaitMetadata(ctx); err != nil {
		return nil, wrapEngine(err)
	}
	return session, nil
}

// focusFile keeps the streamed file at normal priority and drops every
// sibling to none, so all swarm bandwidth serves the active stream.
func focusFile(session ports.Session, active domain.FileRef) {
	for _, f := range session.Files() {
		if f.Index == active.Index {
			continue
		}
		session.SetPiecePriority(f, domain.Range{Off: 0, Length: f.Length}, domain.PriorityNone)
	}
	session.SetPiecePriority(active, domain.Range{Off: 0, Length: active.Length}, domain.PriorityNormal)
}

// applyStartupGradient front-loads the head of the file so playback can
// begin before the sliding window warms up: the first few megabytes at
// the highest priority, then progressively lower bands.
func applyStartupGradient(session ports.Session, file domain.FileRef, window int64) {
	const (
		highBand = 4 << 20
		nextBand = 4 << 20
	)
	remaining := file.Length

	high := min64(highBand, remaining)
	session.SetPiecePriority(file, domain.Range{Off: 0, Length: high}, domain.PriorityHigh)
	remaining -= high
	if remaining <= 0 {
		return
	}

	next := min64(nextBand, remaining)
	session.SetPiecePriority(file, domain.Range{Off: high, Length: next}, domain.PriorityNext)
	remaining -= next
	if remaining <= 0 {
		return
	}

	rest := window - high - next
	if rest <= 0 {
		return
	}
	if rest > remaining {
		rest = remaining
	}
	session.SetPiecePriority(file, domain.Range{Off: high + next, Length: rest}, domain.PriorityReadahead)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
