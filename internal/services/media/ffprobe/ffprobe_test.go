package ffprobe

import (
	"errors"
	"testing"

	"swarmstream/internal/domain"
)

const sampleOutput = `{
	"streams": [
		{"codec_type": "video", "codec_name": "h264"},
		{"codec_type": "audio", "codec_name": "aac", "tags": {"language": "eng", "title": "Stereo"}, "disposition": {"default": 1}},
		{"codec_type": "audio", "codec_name": "ac3", "tags": {"language": "rus"}},
		{"codec_type": "subtitle", "codec_name": "subrip", "tags": {"language": "eng"}},
		{"codec_type": "subtitle", "codec_name": "ass", "tags": {"LANGUAGE": "ger"}},
		{"codec_type": "subtitle", "codec_name": "hdmv_pgs_subtitle"}
	],
	"format": {"duration": "5400.250000"}
}`

func TestParseOutput(t *testing.T) {
	info, err := parseOutput([]byte(sampleOutput))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(info.Audio) != 2 {
		t.Fatalf("audio tracks = %d, want 2", len(info.Audio))
	}
	if len(info.Subtitles) != 3 {
		t.Fatalf("subtitle tracks = %d, want 3", len(info.Subtitles))
	}
	if info.Duration != 5400.25 {
		t.Fatalf("duration = %v", info.Duration)
	}

	// Indexes are per-type, not container-wide.
	if info.Audio[0].Index != 0 || info.Audio[1].Index != 1 {
		t.Fatalf("audio indexes = %d, %d", info.Audio[0].Index, info.Audio[1].Index)
	}
	if info.Subtitles[0].Index != 0 || info.Subtitles[2].Index != 2 {
		t.Fatal("subtitle indexes must start over from zero")
	}

	if !info.Audio[0].Default {
		t.Fatal("disposition default lost")
	}
	if info.Audio[0].Title != "Stereo" {
		t.Fatalf("title = %q", info.Audio[0].Title)
	}
	// Uppercase tag keys appear in some muxers.
	if info.Subtitles[1].Language != "ger" {
		t.Fatalf("language = %q", info.Subtitles[1].Language)
	}
	if info.Subtitles[2].Language != "unknown" {
		t.Fatalf("untagged language = %q, want unknown", info.Subtitles[2].Language)
	}
}

func TestParseOutputRejectsGarbage(t *testing.T) {
	if _, err := parseOutput([]byte("not json")); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestLanguageTagNormalizesUndetermined(t *testing.T) {
	if got := languageTag(map[string]string{"language": "und"}); got != "unknown" {
		t.Fatalf("languageTag(und) = %q", got)
	}
	if got := languageTag(nil); got != "unknown" {
		t.Fatalf("languageTag(nil) = %q", got)
	}
}

func TestAnalysisErrorWrapsDomainSentinel(t *testing.T) {
	err := analysisError(errors.New("exit status 1"), nil, "moov atom not found")
	if !errors.Is(err, domain.ErrAnalysisFailed) {
		t.Fatalf("err = %v, must wrap the analysis sentinel", err)
	}
}

func TestSubtitleTrackLookup(t *testing.T) {
	info, err := parseOutput([]byte(sampleOutput))
	if err != nil {
		t.Fatal(err)
	}
	track, ok := info.SubtitleTrack(1)
	if !ok || track.Codec != "ass" {
		t.Fatalf("track = %+v, ok = %v", track, ok)
	}
	if _, ok := info.SubtitleTrack(9); ok {
		t.Fatal("out-of-range lookup must miss")
	}
}
