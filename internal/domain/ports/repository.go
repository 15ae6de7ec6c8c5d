package ports

import (
	"context"

	"swarmstream/internal/domain"
)

// TorrentRepository persists added torrents so the registry can re-seed
// previously downloaded content after a restart.
type TorrentRepository interface {
	Upsert(ctx context.Context, record domain.TorrentRecord) error
	Get(ctx context.Context, id domain.ContentID) (domain.TorrentRecord, error)
	List(ctx context.Context) ([]domain.TorrentRecord, error)
	Delete(ctx context.Context, id domain.ContentID) error
}

// TrackStore is the persistent index of extracted subtitle payloads.
type TrackStore interface {
	Get(ctx context.Context, id domain.ContentID, filename string, track int) (domain.ExtractedTrack, error)
	Put(ctx context.Context, entry domain.ExtractedTrack) error
	DeleteAll(ctx context.Context, id domain.ContentID) error
}
