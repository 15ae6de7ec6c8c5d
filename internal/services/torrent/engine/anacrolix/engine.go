package anacrolix

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

var ErrSwarmNotFound = domain.ErrNotFound

// addTimeout caps how long we let the anacrolix client block while
// accepting a magnet. The client holds an internal mutex during metadata
// resolution and can stall an unrelated add.
const addTimeout = 10 * time.Second

type Config struct {
	DataDir string
}

// Engine wraps one anacrolix client and the registry of active swarms.
type Engine struct {
	client  *torrent.Client
	dataDir string

	mu     sync.RWMutex
	swarms map[domain.ContentID]*torrent.Torrent

	speedMu sync.Mutex
	speeds  map[domain.ContentID]speedSample
}

func New(cfg Config) (*Engine, error) {
	clientCfg := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientCfg.DataDir = cfg.DataDir
	}
	clientCfg.Seed = true

	client, err := torrent.NewClient(clientCfg)
	if err != nil {
		return nil, err
	}
	return &Engine{
		client:  client,
		dataDir: cfg.DataDir,
		swarms:  make(map[domain.ContentID]*torrent.Torrent),
		speeds:  make(map[domain.ContentID]speedSample),
	}, nil
}

// NewWithClient is used by tests to inject a preconfigured client.
func NewWithClient(client *torrent.Client, dataDir string) *Engine {
	return &Engine{
		client:  client,
		dataDir: dataDir,
		swarms:  make(map[domain.ContentID]*torrent.Torrent),
		speeds:  make(map[domain.ContentID]speedSample),
	}
}

func (e *Engine) Open(ctx context.Context, src domain.TorrentSource) (ports.Session, error) {
	if e.client == nil {
		return nil, errors.New("torrent client not configured")
	}

	// Fast path: the info-hash may already be registered.
	if hash := domain.InfoHashFromMagnet(src.Magnet); hash != "" {
		e.mu.RLock()
		t, ok := e.swarms[domain.ContentID(hash)]
		e.mu.RUnlock()
		if ok {
			return e.newSession(domain.ContentID(hash), t), nil
		}
	}

	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, err := e.client.AddMagnet(src.Magnet)
		ch <- addResult{t, err}
	}()

	var t *torrent.Torrent
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		t = res.t
	case <-time.After(addTimeout):
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return nil, errors.New("torrent client busy, try again later")
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return nil, ctx.Err()
	}

	id := domain.ContentID(t.InfoHash().HexString())

	e.mu.Lock()
	if existing, ok := e.swarms[id]; ok {
		e.mu.Unlock()
		return e.newSession(id, existing), nil
	}
	e.swarms[id] = t
	e.mu.Unlock()

	// Once metadata arrives, keep the torrent uploading. Downloads stay
	// demand-driven: only piece priorities set by readers pull data.
	go func() {
		select {
		case <-t.GotInfo():
			t.AllowDataUpload()
		case <-t.Closed():
		}
	}()

	return e.newSession(id, t), nil
}

func (e *Engine) Get(ctx context.Context, id domain.ContentID) (ports.Session, error) {
	t := e.lookup(id)
	if t == nil {
		return nil, ErrSwarmNotFound
	}
	return e.newSession(id, t), nil
}

func (e *Engine) Remove(ctx context.Context, id domain.ContentID, deleteFiles bool) error {
	e.mu.Lock()
	t, ok := e.swarms[id]
	if ok {
		delete(e.swarms, id)
	}
	e.mu.Unlock()
	if !ok {
		return ErrSwarmNotFound
	}

	var paths []string
	if deleteFiles && infoReady(t) {
		for _, f := range t.Files() {
			paths = append(paths, f.Path())
		}
	}
	t.Drop()
	e.forgetSpeed(id)

	for _, rel := range paths {
		if err := e.removeDataFile(rel); err != nil {
			slog.Warn("data file delete failed",
				slog.String("contentId", string(id)),
				slog.String("path", rel),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// removeDataFile deletes one file under the data dir, then prunes any
// directories the deletion emptied. Already-missing files are fine.
func (e *Engine) removeDataFile(rel string) error {
	if e.dataDir == "" {
		return nil
	}
	base, err := filepath.Abs(e.dataDir)
	if err != nil {
		return err
	}
	full := filepath.Clean(filepath.Join(base, filepath.FromSlash(rel)))
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return errors.New("path escapes data dir")
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	for dir := filepath.Dir(full); dir != base && strings.HasPrefix(dir, base+string(filepath.Separator)); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break // not empty, or gone already
		}
	}
	return nil
}

func (e *Engine) Stats(ctx context.Context, id domain.ContentID) (domain.SwarmStats, error) {
	t := e.lookup(id)
	if t == nil {
		return domain.SwarmStats{}, ErrSwarmNotFound
	}

	stats := t.Stats()
	out := domain.SwarmStats{
		ID:        id,
		Peers:     stats.ActivePeers,
		Uploaded:  stats.BytesWrittenData.Int64(),
		UpdatedAt: time.Now().UTC(),
	}
	if infoReady(t) {
		out.Name = t.Name()
		out.Length = t.Length()
		out.Downloaded = t.BytesCompleted()
		if out.Length > 0 {
			out.Progress = float64(out.Downloaded) / float64(out.Length)
		}
	}
	out.DownloadSpeed, out.UploadSpeed = e.sampleSpeed(id, stats, time.Now().UTC())
	return out, nil
}

func (e *Engine) List(ctx context.Context) []domain.ContentID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]domain.ContentID, 0, len(e.swarms))
	for id := range e.swarms {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	errs := e.client.Close()
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (e *Engine) lookup(id domain.ContentID) *torrent.Torrent {
	e.mu.RLock()
	t := e.swarms[id]
	e.mu.RUnlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.Closed():
		e.mu.Lock()
		delete(e.swarms, id)
		e.mu.Unlock()
		e.forgetSpeed(id)
		return nil
	default:
		return t
	}
}

func (e *Engine) newSession(id domain.ContentID, t *torrent.Torrent) *Session {
	return &Session{engine: e, torrent: t, id: id}
}

func infoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

type speedSample struct {
	at           time.Time
	bytesRead    int64
	bytesWritten int64
}

func (e *Engine) sampleSpeed(id domain.ContentID, stats torrent.TorrentStats, now time.Time) (int64, int64) {
	currentRead := stats.BytesReadUsefulData.Int64()
	currentWritten := stats.BytesWrittenData.Int64()

	e.speedMu.Lock()
	defer e.speedMu.Unlock()

	prev, ok := e.speeds[id]
	e.speeds[id] = speedSample{at: now, bytesRead: currentRead, bytesWritten: currentWritten}
	if !ok || prev.at.IsZero() {
		return 0, 0
	}
	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}
	deltaRead := max64(currentRead-prev.bytesRead, 0)
	deltaWritten := max64(currentWritten-prev.bytesWritten, 0)
	return int64(float64(deltaRead) / dt), int64(float64(deltaWritten) / dt)
}

func (e *Engine) forgetSpeed(id domain.ContentID) {
	e.speedMu.Lock()
	delete(e.speeds, id)
	e.speedMu.Unlock()
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
