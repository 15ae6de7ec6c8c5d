package ports

import (
	"context"

	"swarmstream/internal/domain"
)

// Engine owns every active swarm. Implementations are the policy layer on
// top of the underlying peer-management library: registry, piece
// priorities, file selection, teardown.
type Engine interface {
	// Open adds a torrent, or returns the existing session when the
	// identifier is already active (idempotent).
	Open(ctx context.Context, src domain.TorrentSource) (Session, error)
	// Get returns the session for an already-active torrent.
	Get(ctx context.Context, id domain.ContentID) (Session, error)
	// Remove drops the swarm connection and, when deleteFiles is set,
	// deletes the backing files. Missing files are not an error.
	Remove(ctx context.Context, id domain.ContentID, deleteFiles bool) error
	Stats(ctx context.Context, id domain.ContentID) (domain.SwarmStats, error)
	List(ctx context.Context) []domain.ContentID
	Close() error
}
