package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

const testHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestAddTorrentPersistsRecord(t *testing.T) {
	engine := &fakeEngine{}
	repo := &fakeRepo{}
	uc := &AddTorrent{Engine: engine, Repo: repo, MetadataTimeout: time.Second}

	record, err := uc.Execute(context.Background(), testHash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.ID != domain.ContentID(testHash) {
		t.Fatalf("record id = %q", record.ID)
	}
	if record.Magnet == "" {
		t.Fatal("record must carry the magnet for later revival")
	}
	if _, err := repo.Get(context.Background(), record.ID); err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
}

func TestAddTorrentRejectsGarbageIdentifier(t *testing.T) {
	uc := &AddTorrent{Engine: &fakeEngine{}, Repo: &fakeRepo{}}
	if _, err := uc.Execute(context.Background(), "not a torrent"); err == nil {
		t.Fatal("expected an error for a malformed identifier")
	}
}

type slowMetadataSession struct {
	fakeStreamSession
}

func (s *slowMetadataSession) AwaitMetadata(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestAddTorrentMetadataTimeoutSurfacesDeadline(t *testing.T) {
	sess := &slowMetadataSession{fakeStreamSession{id: domain.ContentID(testHash)}}
	engine := &fakeEngine{sessions: map[domain.ContentID]ports.Session{domain.ContentID(testHash): sess}}
	uc := &AddTorrent{Engine: engine, Repo: &fakeRepo{}, MetadataTimeout: 10 * time.Millisecond}

	_, err := uc.Execute(context.Background(), testHash)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
