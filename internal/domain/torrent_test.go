package domain

import (
	"strings"
	"testing"
)

func TestNormalizeSourceMagnet(t *testing.T) {
	in := "magnet:?xt=urn:btih:aabbccddeeff00112233445566778899aabbccdd&dn=test"
	src, err := NormalizeSource(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.Magnet != in {
		t.Fatalf("magnet changed: %q", src.Magnet)
	}
}

func TestNormalizeSourceBareHash(t *testing.T) {
	hash := "AABBCCDDEEFF00112233445566778899AABBCCDD"
	src, err := NormalizeSource(hash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "magnet:?xt=urn:btih:" + strings.ToLower(hash)
	if src.Magnet != want {
		t.Fatalf("got %q want %q", src.Magnet, want)
	}
}

func TestNormalizeSourceRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "not-a-hash", "http://example.com/file.torrent", "aabbcc"} {
		if _, err := NormalizeSource(in); err == nil {
			t.Errorf("NormalizeSource(%q) accepted invalid input", in)
		}
	}
}

func TestInfoHashFromMagnet(t *testing.T) {
	magnet := "magnet:?xt=urn:btih:AABBCCDDEEFF00112233445566778899AABBCCDD&dn=name&tr=udp://t"
	got := InfoHashFromMagnet(magnet)
	if got != "aabbccddeeff00112233445566778899aabbccdd" {
		t.Fatalf("got %q", got)
	}
	if InfoHashFromMagnet("magnet:?dn=name") != "" {
		t.Fatal("expected empty hash for magnet without btih")
	}
}

func TestFileRefProgress(t *testing.T) {
	f := FileRef{Length: 200, BytesCompleted: 50}
	if got := f.Progress(); got != 0.25 {
		t.Fatalf("got %v want 0.25", got)
	}
	f = FileRef{Length: 0}
	if got := f.Progress(); got != 0 {
		t.Fatalf("zero-length file progress = %v", got)
	}
	f = FileRef{Length: 100, BytesCompleted: 150}
	if got := f.Progress(); got != 1 {
		t.Fatalf("progress not clamped: %v", got)
	}
}
