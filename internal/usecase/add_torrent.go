package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

// AddTorrent registers a swarm from a magnet URI or info-hash and persists
// its record once metadata arrives. Adding an already-active torrent is a
// no-op that returns the existing record.
type AddTorrent struct {
	Engine          ports.Engine
	Repo            ports.TorrentRepository
	MetadataTimeout time.Duration
}

func (uc *AddTorrent) Execute(ctx context.Context, identifier string) (domain.TorrentRecord, error) {
	if uc.Engine == nil {
		return domain.TorrentRecord{}, errors.New("engine not configured")
	}
	src, err := domain.NormalizeSource(identifier)
	if err != nil {
		return domain.TorrentRecord{}, err
	}

	session, err := uc.Engine.Open(ctx, src)
	if err != nil {
		return domain.TorrentRecord{}, wrapEngine(err)
	}

	waitCtx := ctx
	if uc.MetadataTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, uc.MetadataTimeout)
		defer cancel()
	}
	if err := session.AwaitMetadata(waitCtx); err != nil {
		// The swarm stays registered; metadata may still arrive and a
		// later request will find it ready. The context error is
		// preserved so callers can tell a timeout from a failure.
		return domain.TorrentRecord{}, fmt.Errorf("await metadata: %w", err)
	}

	record := recordFromSession(session, src.Magnet)
	if uc.Repo != nil {
		if err := uc.Repo.Upsert(ctx, record); err != nil {
			return domain.TorrentRecord{}, wrapRepo(err)
		}
	}
	return record, nil
}

func recordFromSession(session ports.Session, magnet string) domain.TorrentRecord {
	files := session.Files()
	var total, done int64
	for _, f := range files {
		total += f.Length
		done += f.BytesCompleted
	}
	return domain.TorrentRecord{
		ID:         session.ID(),
		Name:       session.Name(),
		Magnet:     magnet,
		Files:      files,
		TotalBytes: total,
		DoneBytes:  done,
	}
}
