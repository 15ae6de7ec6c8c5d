package usecase

import (
	"context"
	"io"
	"sync"
	"time"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

const (
	minSlidingPriorityStep = 1 << 20

	// The window adapts to keep roughly this much playback time buffered
	// ahead of the read position.
	targetBufferSeconds = 30.0

	seekBoostDuration = 10 * time.Second
)

// slidingPriorityReader wraps a raw stream reader and keeps a high-priority
// piece window moving with the consumer's read position. The window size
// adapts to the observed read rate; a seek temporarily doubles it to cut
// the post-seek stall.
type slidingPriorityReader struct {
	reader    ports.StreamReader
	session   ports.Session
	file      domain.FileRef
	minWindow int64
	maxWindow int64
	backtrack int64
	step      int64

	mu              sync.Mutex
	window          int64
	pos             int64
	lastOff         int64
	bytesSinceTick  int64
	lastTick        time.Time
	rateBytesPerSec float64
	seekBoostUntil  time.Time
}

func newSlidingPriorityReader(
	reader ports.StreamReader,
	session ports.Session,
	file domain.FileRef,
	readahead int64,
	window int64,
) *slidingPriorityReader {
	backtrack := readahead
	if backtrack < 0 {
		backtrack = 0
	}
	if backtrack > window/2 {
		backtrack = window / 2
	}
	step := window / 4
	if step < minSlidingPriorityStep {
		step = minSlidingPriorityStep
	}
	return &slidingPriorityReader{
		reader:    reader,
		session:   session,
		file:      file,
		window:    window,
		minWindow: minPriorityWindowBytes,
		maxWindow: maxPriorityWindowBytes,
		backtrack: backtrack,
		step:      step,
		lastTick:  time.Now(),
	}
}

func (r *slidingPriorityReader) SetContext(ctx context.Context) { r.reader.SetContext(ctx) }
func (r *slidingPriorityReader) SetReadahead(n int64)           { r.reader.SetReadahead(n) }
func (r *slidingPriorityReader) SetResponsive()                 { r.reader.SetResponsive() }

func (r *slidingPriorityReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.mu.Lock()
		r.pos += int64(n)
		r.bytesSinceTick += int64(n)
		r.adjustWindowLocked()
		r.updatePriorityWindowLocked(false)
		r.mu.Unlock()
	}
	return n, err
}

func (r *slidingPriorityReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.reader.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	r.mu.Lock()
	r.pos = pos
	boosted := r.window * 2
	if boosted > r.maxWindow {
		boosted = r.maxWindow
	}
	r.window = boosted
	r.seekBoostUntil = time.Now().Add(seekBoostDuration)
	r.updatePriorityWindowLocked(true)
	r.mu.Unlock()
	return pos, nil
}

func (r *slidingPriorityReader) Close() error {
	return r.reader.Close()
}

// EffectiveBytesPerSec reports the smoothed consumer read rate.
func (r *slidingPriorityReader) EffectiveBytesPerSec() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rateBytesPerSec
}

// adjustWindowLocked resizes the window from EMA-smoothed read throughput.
// Called on every Read, recalculated at most twice a second.
func (r *slidingPriorityReader) adjustWindowLocked() {
	now := time.Now()
	elapsed := now.Sub(r.lastTick).Seconds()
	if elapsed < 0.5 {
		return
	}

	instantRate := float64(r.bytesSinceTick) / elapsed
	if r.rateBytesPerSec <= 0 {
		r.rateBytesPerSec = instantRate
	} else {
		r.rateBytesPerSec = 0.7*r.rateBytesPerSec + 0.3*instantRate
	}
	r.bytesSinceTick = 0
	r.lastTick = now

	// The boosted window holds until the boost expires.
	if now.Before(r.seekBoostUntil) {
		return
	}

	dynamicWindow := int64(r.rateBytesPerSec * targetBufferSeconds)
	if dynamicWindow < r.minWindow {
		dynamicWindow = r.minWindow
	}
	if dynamicWindow > r.maxWindow {
		dynamicWindow = r.maxWindow
	}
	r.window = dynamicWindow
}

func (r *slidingPriorityReader) updatePriorityWindowLocked(force bool) {
	off := r.pos - r.backtrack
	if off < 0 {
		off = 0
	}

	if !force {
		delta := off - r.lastOff
		if delta < 0 {
			delta = -delta
		}
		if delta < r.step {
			return
		}
	}

	r.session.SetPiecePriority(
		r.file,
		domain.Range{Off: off, Length: r.window},
		domain.PriorityHigh,
	)
	r.lastOff = off
}

var _ ports.StreamReader = (*slidingPriorityReader)(nil)
var _ io.ReadSeekCloser = (*slidingPriorityReader)(nil)
