package usecase

import (
	"testing"

	"swarmstream/internal/domain"
)

func newTestSlidingReader(window int64) (*slidingPriorityReader, *fakeStreamSession, *fakeStreamReader) {
	file := domain.FileRef{Index: 0, Path: "movie.mkv", Name: "movie.mkv", Length: 4 << 30}
	raw := &fakeStreamReader{}
	sess := &fakeStreamSession{id: "abc", files: []domain.FileRef{file}}
	return newSlidingPriorityReader(raw, sess, file, defaultStreamReadahead, window), sess, raw
}

func TestSlidingReaderMovesWindowWithReads(t *testing.T) {
	window := int64(64 << 20)
	r, sess, _ := newTestSlidingReader(window)

	// Position moves far enough past the backtrack margin that the
	// window must be re-announced.
	buf := make([]byte, 40<<20)
	if _, err := r.Read(buf); err != nil {
		t.Fatal(err)
	}

	wantOff := int64(40<<20) - defaultStreamReadahead
	c, ok := findCall(sess.calls, domain.PriorityHigh, wantOff)
	if !ok {
		t.Fatalf("no high-priority window at offset %d, calls: %+v", wantOff, sess.calls)
	}
	if c.r.Length != window {
		t.Fatalf("window length = %d, want %d", c.r.Length, window)
	}
}

func TestSlidingReaderSmallReadsBelowStepAreQuiet(t *testing.T) {
	r, sess, _ := newTestSlidingReader(64 << 20)

	buf := make([]byte, 1<<20)
	for i := 0; i < 8; i++ {
		if _, err := r.Read(buf); err != nil {
			t.Fatal(err)
		}
	}
	if len(sess.calls) != 0 {
		t.Fatalf("expected no priority updates below the step threshold, got %+v", sess.calls)
	}
}

func TestSlidingReaderSeekBoostsWindow(t *testing.T) {
	window := int64(64 << 20)
	r, sess, raw := newTestSlidingReader(window)

	target := int64(1 << 30)
	pos, err := r.Seek(target, 0)
	if err != nil {
		t.Fatal(err)
	}
	if pos != target {
		t.Fatalf("pos = %d, want %d", pos, target)
	}
	if raw.pos != target {
		t.Fatal("seek did not reach the wrapped reader")
	}

	wantOff := target - defaultStreamReadahead
	c, ok := findCall(sess.calls, domain.PriorityHigh, wantOff)
	if !ok {
		t.Fatalf("seek must force a window update at offset %d, calls: %+v", wantOff, sess.calls)
	}
	if c.r.Length != window*2 {
		t.Fatalf("boosted window = %d, want %d", c.r.Length, window*2)
	}
}

func TestSlidingReaderSeekBoostCapsAtMaxWindow(t *testing.T) {
	r, sess, _ := newTestSlidingReader(maxPriorityWindowBytes)

	if _, err := r.Seek(1<<30, 0); err != nil {
		t.Fatal(err)
	}
	c, ok := findCall(sess.calls, domain.PriorityHigh, (1<<30)-defaultStreamReadahead)
	if !ok {
		t.Fatal("seek must force a window update")
	}
	if c.r.Length != maxPriorityWindowBytes {
		t.Fatalf("window = %d, must not exceed %d", c.r.Length, maxPriorityWindowBytes)
	}
}

func TestSlidingReaderCloseClosesWrapped(t *testing.T) {
	r, _, raw := newTestSlidingReader(64 << 20)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !raw.closed {
		t.Fatal("wrapped reader not closed")
	}
}
