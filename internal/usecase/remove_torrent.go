package usecase

import (
	"context"
	"errors"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

// TrackPurger removes cached subtitle artifacts for a torrent.
type TrackPurger interface {
	Purge(ctx context.Context, id domain.ContentID) error
}

// JobStopper tears down transcode jobs for a torrent.
type JobStopper interface {
	Stop(id domain.ContentID)
}

// RemoveTorrent drops a swarm, deletes its data files, and clears every
// derived artifact: the persisted record, cached subtitle tracks, and any
// running transcode job.
type RemoveTorrent struct {
	Engine ports.Engine
	Repo   ports.TorrentRepository
	Tracks TrackPurger
	Jobs   JobStopper
}

func (uc *RemoveTorrent) Execute(ctx context.Context, id domain.ContentID) error {
	if uc.Engine == nil {
		return errors.New("engine not configured")
	}

	if uc.Jobs != nil {
		uc.Jobs.Stop(id)
	}

	engineErr := uc.Engine.Remove(ctx, id, true)
	if engineErr != nil && !errors.Is(engineErr, domain.ErrNotFound) {
		return wrapEngine(engineErr)
	}

	notFound := errors.Is(engineErr, domain.ErrNotFound)
	if uc.Repo != nil {
		switch err := uc.Repo.Delete(ctx, id); {
		case err == nil:
			notFound = false
		case errors.Is(err, domain.ErrNotFound):
			// Nothing persisted; fall through.
		default:
			return wrapRepo(err)
		}
	}

	if uc.Tracks != nil {
		if err := uc.Tracks.Purge(ctx, id); err != nil {
			return err
		}
	}

	// Removing a torrent unknown to both the engine and the store is
	// reported, not silently absorbed.
	if notFound {
		return domain.ErrNotFound
	}
	return nil
}
