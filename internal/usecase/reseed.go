package usecase

import (
	"context"
	"log/slog"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

// Reseed re-opens every persisted torrent on startup so previously
// downloaded content is announced to its swarms again. Failures are
// logged per-torrent and do not block boot.
type Reseed struct {
	Engine ports.Engine
	Repo   ports.TorrentRepository
	Logger *slog.Logger
}

func (uc *Reseed) Execute(ctx context.Context) (int, error) {
	records, err := uc.Repo.List(ctx)
	if err != nil {
		return 0, wrapRepo(err)
	}
	opened := 0
	for _, record := range records {
		if record.Magnet == "" {
			uc.Logger.Warn("skipping record without magnet", slog.String("id", string(record.ID)))
			continue
		}
		if _, err := uc.Engine.Open(ctx, domain.TorrentSource{Magnet: record.Magnet}); err != nil {
			uc.Logger.Warn("reseed failed",
				slog.String("id", string(record.ID)),
				slog.String("name", record.Name),
				slog.Any("error", err))
			continue
		}
		opened++
	}
	uc.Logger.Info("reseed complete",
		slog.Int("persisted", len(records)), slog.Int("opened", opened))
	return opened, nil
}
