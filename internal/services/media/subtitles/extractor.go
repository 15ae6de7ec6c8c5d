package subtitles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

// Config holds the extraction policy knobs.
type Config struct {
	FFmpegPath string
	CacheDir   string
	// HeadFraction is the downloaded share required before a partial
	// extraction is attempted on an incomplete file.
	HeadFraction float64
	// CompleteFraction is the share above which the file is close enough
	// to finished that we wait for the remainder and extract once.
	CompleteFraction float64
	// HeadWaitTimeout bounds the wait for the head window to download.
	HeadWaitTimeout time.Duration
	// RecheckInterval is the background poll period for upgrading a
	// partial extraction to a complete one.
	RecheckInterval time.Duration
	// ExtractionTimeout bounds one extraction run end to end, including
	// waits for source bytes.
	ExtractionTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.HeadFraction <= 0 {
		c.HeadFraction = 0.35
	}
	if c.CompleteFraction <= 0 {
		c.CompleteFraction = 0.95
	}
	if c.HeadWaitTimeout <= 0 {
		c.HeadWaitTimeout = 2 * time.Minute
	}
	if c.RecheckInterval <= 0 {
		c.RecheckInterval = 15 * time.Second
	}
	if c.ExtractionTimeout <= 0 {
		c.ExtractionTimeout = 5 * time.Minute
	}
}

// Prober is the slice of the ffprobe service the extractor needs.
type Prober interface {
	Probe(ctx context.Context, path string) (domain.MediaInfo, error)
}

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%s: %s", name, msg)
	}
	return stdout.Bytes(), nil
}

// Result is one served subtitle payload.
type Result struct {
	Payload     []byte
	SourceCodec string
	State       domain.TrackState
	CacheHit    bool
}

// Extractor produces WebVTT payloads from torrent-backed media files and
// caches them on disk, indexed through a TrackStore. Concurrent requests
// for the same track share a single ffmpeg run.
type Extractor struct {
	cfg     Config
	dataDir string
	store   ports.TrackStore
	probe   Prober
	runner  commandRunner
	group   singleflight.Group
	logger  *slog.Logger
}

func NewExtractor(cfg Config, dataDir string, store ports.TrackStore, probe Prober, logger *slog.Logger) *Extractor {
	cfg.applyDefaults()
	return &Extractor{
		cfg:     cfg,
		dataDir: dataDir,
		store:   store,
		probe:   probe,
		runner:  execRunner{},
		logger:  logger,
	}
}

// Track returns the WebVTT payload for one subtitle track, extracting and
// caching it on a miss. A complete cached entry is served as-is; a partial
// entry is upgraded when the source file has since finished downloading.
func (x *Extractor) Track(ctx context.Context, sess ports.Session, filename string, trackIndex int) (Result, error) {
	id := sess.ID()
	if entry, err := x.store.Get(ctx, id, filename, trackIndex); err == nil {
		if entry.State == domain.TrackComplete || !x.sourceComplete(sess, filename) {
			payload, rerr := os.ReadFile(entry.PayloadPath)
			if rerr == nil {
				return Result{Payload: payload, SourceCodec: entry.SourceCodec, State: entry.State, CacheHit: true}, nil
			}
			x.logger.Warn("subtitle payload missing on disk, re-extracting",
				slog.String("path", entry.PayloadPath), slog.Any("error", rerr))
		}
		// Partial entry with a now-complete source falls through to a
		// fresh extraction that replaces it.
	} else if !errors.Is(err, domain.ErrNotFound) {
		return Result{}, err
	}

	key := fmt.Sprintf("%s/%s/%d", id, filename, trackIndex)
	v, err, _ := x.group.Do(key, func() (any, error) {
		// Detached from the request context: the run is shared by every
		// waiter on this key and the cache entry outlives the first
		// caller's connection.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.cfg.ExtractionTimeout)
		defer cancel()
		return x.extract(dctx, sess, filename, trackIndex)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// Purge removes every cached track for a torrent, both the index entries
// and the payload files.
func (x *Extractor) Purge(ctx context.Context, id domain.ContentID) error {
	if err := x.store.DeleteAll(ctx, id); err != nil {
		return err
	}
	dir := filepath.Join(x.cfg.CacheDir, sanitizeComponent(string(id)))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purge subtitle cache: %w", err)
	}
	return nil
}

func (x *Extractor) extract(ctx context.Context, sess ports.Session, filename string, trackIndex int) (Result, error) {
	file, err := sess.FileByName(filename)
	if err != nil {
		return Result{}, err
	}

	// An already-downloaded standalone subtitle next to the video wins
	// over demuxing the container.
	if sibling, ok := findStandalone(filename, sess.Files()); ok {
		res, err := x.fromStandalone(ctx, sess, sibling)
		if err == nil {
			x.persist(ctx, sess.ID(), filename, trackIndex, res)
			return res, nil
		}
		x.logger.Warn("standalone subtitle failed, falling back to container",
			slog.String("sibling", sibling.BaseName()), slog.Any("error", err))
	}

	state := domain.TrackComplete
	switch progress := file.Progress(); {
	case progress >= 1:
		// Extract from the finished file.
	case progress >= x.cfg.CompleteFraction:
		// Close enough to done that waiting beats serving a truncated
		// track. AwaitBytes keeps the tail prioritized.
		if err := sess.AwaitBytes(ctx, file, file.Length); err != nil {
			return Result{}, err
		}
	default:
		headBytes := int64(float64(file.Length) * x.cfg.HeadFraction)
		waitCtx, cancel := context.WithTimeout(ctx, x.cfg.HeadWaitTimeout)
		err := sess.AwaitBytes(waitCtx, file, headBytes)
		cancel()
		if err != nil {
			return Result{}, &domain.BufferingError{Progress: file.Progress()}
		}
		state = domain.TrackPartial
	}

	res, err := x.fromContainer(ctx, sess, filename, trackIndex, state)
	if err != nil {
		return Result{}, err
	}
	x.persist(ctx, sess.ID(), filename, trackIndex, res)
	if res.State == domain.TrackPartial {
		go x.recheck(sess, filename, trackIndex)
	}
	return res, nil
}

func (x *Extractor) fromContainer(ctx context.Context, sess ports.Session, filename string, trackIndex int, state domain.TrackState) (Result, error) {
	file, err := sess.FileByName(filename)
	if err != nil {
		return Result{}, err
	}
	abs := filepath.Join(x.dataDir, filepath.FromSlash(file.Path))

	codec := "unknown"
	if info, err := x.probe.Probe(ctx, abs); err == nil {
		if track, ok := info.SubtitleTrack(trackIndex); ok {
			codec = track.Codec
		}
	}

	out, err := x.runner.Run(ctx, x.cfg.FFmpegPath,
		"-v", "error",
		"-i", abs,
		"-map", fmt.Sprintf("0:s:%d", trackIndex),
		"-f", "srt",
		"pipe:1",
	)
	if err != nil {
		if state == domain.TrackPartial {
			// A truncated container can be unreadable even past the head
			// threshold. Report buffering rather than a hard failure.
			return Result{}, &domain.BufferingError{Progress: file.Progress()}
		}
		return Result{}, fmt.Errorf("extract track %d from %s: %w", trackIndex, filename, err)
	}
	return Result{Payload: ConvertSRTToVTT(out), SourceCodec: codec, State: state}, nil
}

func (x *Extractor) fromStandalone(ctx context.Context, sess ports.Session, sub domain.FileRef) (Result, error) {
	if err := sess.AwaitBytes(ctx, sub, sub.Length); err != nil {
		return Result{}, err
	}
	abs := filepath.Join(x.dataDir, filepath.FromSlash(sub.Path))
	ext := strings.ToLower(filepath.Ext(sub.Path))
	switch ext {
	case ".vtt":
		payload, err := os.ReadFile(abs)
		if err != nil {
			return Result{}, err
		}
		return Result{Payload: payload, SourceCodec: "webvtt", State: domain.TrackComplete}, nil
	case ".srt":
		payload, err := os.ReadFile(abs)
		if err != nil {
			return Result{}, err
		}
		return Result{Payload: ConvertSRTToVTT(payload), SourceCodec: "subrip", State: domain.TrackComplete}, nil
	default:
		out, err := x.runner.Run(ctx, x.cfg.FFmpegPath, "-v", "error", "-i", abs, "-f", "srt", "pipe:1")
		if err != nil {
			return Result{}, fmt.Errorf("convert %s: %w", sub.BaseName(), err)
		}
		return Result{Payload: ConvertSRTToVTT(out), SourceCodec: strings.TrimPrefix(ext, "."), State: domain.TrackComplete}, nil
	}
}

// persist publishes the payload with a write-to-temp-then-rename so a
// concurrent reader never sees a half-written file, then records it in
// the store. Persistence failures are logged, not returned: the caller
// already holds a good payload.
func (x *Extractor) persist(ctx context.Context, id domain.ContentID, filename string, trackIndex int, res Result) {
	dir := filepath.Join(x.cfg.CacheDir, sanitizeComponent(string(id)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		x.logger.Error("subtitle cache dir", slog.Any("error", err))
		return
	}
	final := filepath.Join(dir, fmt.Sprintf("%s.%d.vtt", sanitizeComponent(filename), trackIndex))
	tmp, err := os.CreateTemp(dir, ".extract-*")
	if err != nil {
		x.logger.Error("subtitle cache temp", slog.Any("error", err))
		return
	}
	_, werr := tmp.Write(res.Payload)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		x.logger.Error("subtitle cache write", slog.Any("error", errors.Join(werr, cerr)))
		return
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		x.logger.Error("subtitle cache publish", slog.Any("error", err))
		return
	}
	entry := domain.ExtractedTrack{
		ContentID:   id,
		Filename:    filename,
		TrackIndex:  trackIndex,
		SourceCodec: res.SourceCodec,
		State:       res.State,
		PayloadPath: final,
	}
	if err := x.store.Put(ctx, entry); err != nil {
		x.logger.Error("subtitle index put", slog.Any("error", err))
	}
}

// recheck polls a partially-extracted source until it finishes, then
// re-extracts the whole track and replaces the cached payload.
func (x *Extractor) recheck(sess ports.Session, filename string, trackIndex int) {
	ticker := time.NewTicker(x.cfg.RecheckInterval)
	defer ticker.Stop()
	for range ticker.C {
		file, err := sess.FileByName(filename)
		if err != nil {
			return
		}
		if file.Progress() < 1 {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		res, err := x.fromContainer(ctx, sess, filename, trackIndex, domain.TrackComplete)
		if err == nil {
			x.persist(ctx, sess.ID(), filename, trackIndex, res)
		} else {
			x.logger.Warn("partial subtitle upgrade failed",
				slog.String("filename", filename), slog.Int("track", trackIndex), slog.Any("error", err))
		}
		cancel()
		return
	}
}

func (x *Extractor) sourceComplete(sess ports.Session, filename string) bool {
	file, err := sess.FileByName(filename)
	return err == nil && file.Progress() >= 1
}

var standaloneExts = map[string]bool{
	".srt": true, ".vtt": true, ".ass": true, ".ssa": true, ".sub": true,
}

// findStandalone looks for a subtitle file in the torrent matching the
// video's name, either by shared stem or by episode number when the
// torrent ships a subs directory with per-episode files.
func findStandalone(videoName string, files []domain.FileRef) (domain.FileRef, bool) {
	stem := strings.TrimSuffix(videoName, filepath.Ext(videoName))
	guess := domain.ParseEpisodeName(videoName)
	var byEpisode domain.FileRef
	var foundEpisode bool
	for _, f := range files {
		name := f.BaseName()
		if !standaloneExts[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		subStem := strings.TrimSuffix(name, filepath.Ext(name))
		if strings.EqualFold(subStem, stem) {
			return f, true
		}
		if guess.Confident && !foundEpisode {
			if sg := domain.ParseEpisodeName(name); sg.Confident && sg.Episode == guess.Episode {
				byEpisode, foundEpisode = f, true
			}
		}
	}
	return byEpisode, foundEpisode
}

func sanitizeComponent(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
}
