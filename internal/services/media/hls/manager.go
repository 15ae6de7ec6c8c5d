package hls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	"github.com/puzpuzpuz/xsync/v3"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
	"swarmstream/internal/metrics"
)

var (
	// ErrSegmentNotReady is returned for a requested segment the encoder
	// has not produced yet.
	ErrSegmentNotReady = errors.New("hls segment not ready")
	errJobFailed       = errors.New("hls job failed")
)

type Config struct {
	FFmpegPath string
	Dir        string
	// MinFraction is the downloaded share of the source required before
	// a transcode job is started.
	MinFraction float64
	// StartupTimeout bounds the wait for the first playable segment.
	StartupTimeout  time.Duration
	AudioBitrate    string
	SegmentDuration int
}

func (c *Config) applyDefaults() {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.MinFraction <= 0 {
		c.MinFraction = 0.08
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 30 * time.Second
	}
	if c.AudioBitrate == "" {
		c.AudioBitrate = "128k"
	}
	if c.SegmentDuration <= 0 {
		c.SegmentDuration = 4
	}
}

// Job is one running or finished transcode of a single file.
type Job struct {
	Key       string
	Dir       string
	proc      *process
	startedAt time.Time
}

func (j *Job) finished() bool { return j.proc.IsDone() && j.proc.Err() == nil }

// Manager owns HLS transcode jobs, one per (torrent, file). Repeated
// manifest requests reuse the running job; segments already written are
// served straight from disk.
type Manager struct {
	cfg     Config
	dataDir string
	jobs    *xsync.MapOf[string, *Job]
	logger  *slog.Logger
}

func NewManager(cfg Config, dataDir string, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:     cfg,
		dataDir: dataDir,
		jobs:    xsync.NewMapOf[string, *Job](),
		logger:  logger,
	}
}

// Manifest returns the playlist for one file, starting a transcode job if
// none is running. The returned playlist lists only segments that already
// exist on disk, and gains ENDLIST once the encoder has finished.
func (m *Manager) Manifest(ctx context.Context, sess ports.Session, filename string) ([]byte, error) {
	file, err := sess.FileByName(filename)
	if err != nil {
		return nil, err
	}
	if file.Progress() < m.cfg.MinFraction {
		return nil, &domain.BufferingError{Progress: file.Progress()}
	}

	key := jobKey(sess.ID(), filename)
	job, loaded := m.jobs.LoadOrCompute(key, func() *Job {
		return &Job{Key: key, Dir: filepath.Join(m.cfg.Dir, key), startedAt: time.Now()}
	})
	if !loaded {
		if err := m.start(ctx, job, file); err != nil {
			m.jobs.Delete(key)
			metrics.HLSJobFailuresTotal.Inc()
			return nil, err
		}
	} else if job.proc.IsDone() && job.proc.Err() != nil {
		// A previously failed job is retried from scratch.
		m.jobs.Delete(key)
		return m.Manifest(ctx, sess, filename)
	}

	if err := m.awaitFirstSegment(ctx, job); err != nil {
		return nil, err
	}
	return m.renderManifest(job)
}

// SegmentPath maps a segment name inside a job's directory to a disk
// path, rejecting anything that would escape the job dir.
func (m *Manager) SegmentPath(id domain.ContentID, filename, segment string) (string, error) {
	if strings.Contains(segment, "/") || strings.Contains(segment, "\\") || strings.Contains(segment, "..") {
		return "", fmt.Errorf("invalid segment name %q", segment)
	}
	job, ok := m.jobs.Load(jobKey(id, filename))
	if !ok {
		return "", domain.ErrNotFound
	}
	p := filepath.Join(job.Dir, segment)
	if _, err := os.Stat(p); err != nil {
		return "", ErrSegmentNotReady
	}
	return p, nil
}

// Stop tears down every job for a torrent and removes its segment dirs.
func (m *Manager) Stop(id domain.ContentID) {
	prefix := string(id) + "."
	m.jobs.Range(func(key string, job *Job) bool {
		if strings.HasPrefix(key, prefix) {
			// The completion goroutine in start owns the active-jobs
			// decrement; it fires for killed processes too.
			job.proc.Stop()
			m.jobs.Delete(key)
			if err := os.RemoveAll(job.Dir); err != nil {
				m.logger.Warn("hls cleanup", slog.String("dir", job.Dir), slog.Any("error", err))
			}
		}
		return true
	})
}

// Shutdown stops every running encoder.
func (m *Manager) Shutdown() {
	m.jobs.Range(func(key string, job *Job) bool {
		job.proc.Stop()
		m.jobs.Delete(key)
		return true
	})
}

func (m *Manager) start(ctx context.Context, job *Job, file domain.FileRef) error {
	if err := os.MkdirAll(job.Dir, 0o755); err != nil {
		return fmt.Errorf("hls job dir: %w", err)
	}
	input := filepath.Join(m.dataDir, filepath.FromSlash(file.Path))
	args := m.buildArgs(input)

	// Detached from the request context: the encode outlives the first
	// manifest request.
	job.proc = newProcess(context.WithoutCancel(ctx), m.cfg.FFmpegPath, args, job.Dir)
	if err := job.proc.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	metrics.HLSJobStartsTotal.Inc()
	metrics.HLSActiveJobs.Inc()
	m.logger.Info("hls job started",
		slog.String("key", job.Key), slog.String("input", file.BaseName()))

	go func() {
		<-job.proc.Done()
		metrics.HLSActiveJobs.Dec()
		if err := job.proc.Err(); err != nil {
			metrics.HLSJobFailuresTotal.Inc()
			m.logger.Error("hls job failed",
				slog.String("key", job.Key),
				slog.Any("error", err),
				slog.String("stderr", job.proc.Stderr()))
		} else {
			m.logger.Info("hls job finished",
				slog.String("key", job.Key),
				slog.Duration("took", time.Since(job.startedAt)))
		}
	}()
	return nil
}

// buildArgs produces a single-variant stream-copy command: video passes
// through untouched, audio is normalized to AAC for broad player support.
func (m *Manager) buildArgs(input string) []string {
	segDur := strconv.Itoa(m.cfg.SegmentDuration)
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-progress", "pipe:1",
		"-fflags", "+genpts+discardcorrupt",
		"-err_detect", "ignore_err",
		"-avoid_negative_ts", "make_zero",
		"-i", input,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", m.cfg.AudioBitrate,
		"-ac", "2",
		"-f", "hls",
		"-hls_time", segDur,
		"-hls_list_size", "0",
		"-hls_playlist_type", "event",
		"-hls_flags", "append_list+independent_segments",
		"-hls_segment_filename", "seg-%05d.ts",
		"index.m3u8",
	}
}

func (m *Manager) awaitFirstSegment(ctx context.Context, job *Job) error {
	deadline := time.NewTimer(m.cfg.StartupTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		if raw, err := os.ReadFile(filepath.Join(job.Dir, "index.m3u8")); err == nil {
			if segs := onDiskSegments(job.Dir, raw); len(segs) > 0 {
				return nil
			}
		}
		if job.proc.IsDone() {
			if err := job.proc.Err(); err != nil {
				return fmt.Errorf("%w: %s", errJobFailed, job.proc.Stderr())
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: no segment within %s", errJobFailed, m.cfg.StartupTimeout)
		case <-tick.C:
		}
	}
}

// renderManifest re-encodes ffmpeg's live playlist filtered down to
// segments that are actually on disk, so a player never fetches a 404.
func (m *Manager) renderManifest(job *Job) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(job.Dir, "index.m3u8"))
	if err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(raw), true)
	if err != nil || listType != m3u8.MEDIA {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}
	src := playlist.(*m3u8.MediaPlaylist)

	ready := onDiskSegments(job.Dir, raw)
	out, err := m3u8.NewMediaPlaylist(0, uint(len(ready)+1))
	if err != nil {
		return nil, err
	}
	out.TargetDuration = src.TargetDuration
	out.MediaType = m3u8.EVENT
	for _, seg := range ready {
		if err := out.Append(seg.URI, seg.Duration, seg.Title); err != nil {
			return nil, err
		}
	}
	if job.finished() && len(ready) == countSegments(src) {
		out.Close()
	}
	return out.Encode().Bytes(), nil
}

func onDiskSegments(dir string, raw []byte) []*m3u8.MediaSegment {
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(raw), true)
	if err != nil || listType != m3u8.MEDIA {
		return nil
	}
	src := playlist.(*m3u8.MediaPlaylist)
	var ready []*m3u8.MediaSegment
	for _, seg := range src.Segments {
		if seg == nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, seg.URI)); err != nil {
			// Segments are written in order; the first gap ends the
			// servable prefix.
			break
		}
		ready = append(ready, seg)
	}
	return ready
}

func countSegments(pl *m3u8.MediaPlaylist) int {
	n := 0
	for _, seg := range pl.Segments {
		if seg != nil {
			n++
		}
	}
	return n
}

func jobKey(id domain.ContentID, filename string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, filename)
	return fmt.Sprintf("%s.%s", id, safe)
}
