package usecase

import (
	"context"
	"errors"
	"testing"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

type removalEngine struct {
	fakeEngine
	removed []domain.ContentID
}

func (e *removalEngine) Remove(_ context.Context, id domain.ContentID, _ bool) error {
	if _, ok := e.sessions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(e.sessions, id)
	e.removed = append(e.removed, id)
	return nil
}

type recordingPurger struct {
	purged []domain.ContentID
}

func (p *recordingPurger) Purge(_ context.Context, id domain.ContentID) error {
	p.purged = append(p.purged, id)
	return nil
}

type recordingStopper struct {
	stopped []domain.ContentID
}

func (s *recordingStopper) Stop(id domain.ContentID) {
	s.stopped = append(s.stopped, id)
}

func TestRemoveTorrentClearsEverything(t *testing.T) {
	id := domain.ContentID(testHash)
	engine := &removalEngine{fakeEngine: fakeEngine{
		sessions: map[domain.ContentID]ports.Session{id: &fakeStreamSession{id: id}},
	}}
	repo := &fakeRepo{records: map[domain.ContentID]domain.TorrentRecord{id: {ID: id}}}
	purger := &recordingPurger{}
	stopper := &recordingStopper{}

	uc := &RemoveTorrent{Engine: engine, Repo: repo, Tracks: purger, Jobs: stopper}
	if err := uc.Execute(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(engine.removed) != 1 {
		t.Fatal("swarm not removed from the engine")
	}
	if _, err := repo.Get(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("record not deleted")
	}
	if len(purger.purged) != 1 {
		t.Fatal("subtitle cache not purged")
	}
	if len(stopper.stopped) != 1 {
		t.Fatal("transcode jobs not stopped")
	}
}

func TestRemoveTorrentInactiveButPersisted(t *testing.T) {
	id := domain.ContentID(testHash)
	engine := &removalEngine{}
	repo := &fakeRepo{records: map[domain.ContentID]domain.TorrentRecord{id: {ID: id}}}

	uc := &RemoveTorrent{Engine: engine, Repo: repo}
	if err := uc.Execute(context.Background(), id); err != nil {
		t.Fatalf("removing a persisted-but-inactive torrent must succeed, got %v", err)
	}
	if len(repo.deleted) != 1 {
		t.Fatal("record not deleted")
	}
}

func TestRemoveTorrentUnknownEverywhere(t *testing.T) {
	uc := &RemoveTorrent{Engine: &removalEngine{}, Repo: &fakeRepo{}}
	if err := uc.Execute(context.Background(), "deadbeef"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
