package ports

import (
	"context"

	"swarmstream/internal/domain"
)

type Session interface {
	ID() domain.ContentID
	Name() string
	Ready() bool
	// AwaitMetadata blocks until the swarm's file list is known or ctx ends.
	AwaitMetadata(ctx context.Context) error
	Files() []domain.FileRef
	// FileByName resolves a base filename to a FileRef; a miss returns a
	// *domain.FileNotFoundError listing the available names.
	FileByName(name string) (domain.FileRef, error)
	SetPiecePriority(file domain.FileRef, r domain.Range, prio domain.Priority)
	NewReader(file domain.FileRef) (StreamReader, error)
	// AwaitBytes blocks until at least n bytes of the file are verified on
	// disk, or ctx ends. The needed window is prioritized while waiting.
	AwaitBytes(ctx context.Context, file domain.FileRef, n int64) error
}
