package anacrolix

import (
	"context"
	"path"
	"time"

	"github.com/anacrolix/torrent"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

type Session struct {
	engine  *Engine
	torrent *torrent.Torrent
	id      domain.ContentID
}

func (s *Session) ID() domain.ContentID { return s.id }

func (s *Session) Name() string {
	if !infoReady(s.torrent) {
		return ""
	}
	return s.torrent.Name()
}

func (s *Session) Ready() bool { return infoReady(s.torrent) }

func (s *Session) AwaitMetadata(ctx context.Context) error {
	if s.torrent == nil {
		return ErrSwarmNotFound
	}
	select {
	case <-s.torrent.GotInfo():
		return nil
	case <-s.torrent.Closed():
		return ErrSwarmNotFound
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Files() []domain.FileRef {
	if !infoReady(s.torrent) {
		return nil
	}
	files := s.torrent.Files()
	out := make([]domain.FileRef, 0, len(files))
	for i, f := range files {
		out = append(out, domain.FileRef{
			Index:          i,
			Path:           f.Path(),
			Name:           path.Base(f.Path()),
			Length:         f.Length(),
			BytesCompleted: f.BytesCompleted(),
		})
	}
	return out
}

func (s *Session) FileByName(name string) (domain.FileRef, error) {
	files := s.Files()
	available := make([]string, 0, len(files))
	for _, f := range files {
		if f.Name == name {
			return f, nil
		}
		available = append(available, f.Name)
	}
	return domain.FileRef{}, &domain.FileNotFoundError{Name: name, Available: available}
}

func (s *Session) SetPiecePriority(file domain.FileRef, r domain.Range, prio domain.Priority) {
	if !infoReady(s.torrent) {
		return
	}
	applyPiecePriority(s.torrent, file, r, prio)
}

func (s *Session) NewReader(file domain.FileRef) (ports.StreamReader, error) {
	if !infoReady(s.torrent) {
		return nil, ErrSwarmNotFound
	}
	files := s.torrent.Files()
	if file.Index < 0 || file.Index >= len(files) {
		return nil, ErrSwarmNotFound
	}
	return files[file.Index].NewReader(), nil
}

// awaitBytesPoll bounds how often AwaitBytes re-checks verified data.
const awaitBytesPoll = 250 * time.Millisecond

func (s *Session) AwaitBytes(ctx context.Context, file domain.FileRef, n int64) error {
	if !infoReady(s.torrent) {
		if err := s.AwaitMetadata(ctx); err != nil {
			return err
		}
	}
	files := s.torrent.Files()
	if file.Index < 0 || file.Index >= len(files) {
		return ErrSwarmNotFound
	}
	f := files[file.Index]
	if n > f.Length() {
		n = f.Length()
	}
	s.SetPiecePriority(file, domain.Range{Off: 0, Length: n}, domain.PriorityHigh)

	ticker := time.NewTicker(awaitBytesPoll)
	defer ticker.Stop()
	for {
		if f.BytesCompleted() >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.torrent.Closed():
			return ErrSwarmNotFound
		case <-ticker.C:
		}
	}
}

var _ ports.Session = (*Session)(nil)
