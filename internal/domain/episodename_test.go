package domain

import "testing"

func TestParseEpisodeNameSeasonEpisode(t *testing.T) {
	guess := ParseEpisodeName("Show.S01E05.1080p.mkv")
	if !guess.Confident {
		t.Fatal("expected confident guess")
	}
	if guess.Episode != 5 {
		t.Fatalf("episode = %d, want 5", guess.Episode)
	}
}

func TestParseEpisodeNameBracketedRelease(t *testing.T) {
	guess := ParseEpisodeName("[Group] Show - 07 (1080p) [ABC123].mkv")
	if !guess.Confident {
		t.Fatal("expected confident guess")
	}
	if guess.Episode != 7 {
		t.Fatalf("episode = %d, want 7", guess.Episode)
	}
}

func TestParseEpisodeNameLanguageTag(t *testing.T) {
	guess := ParseEpisodeName("Show.S01E02.[Eng].mkv")
	if guess.Language != "en" {
		t.Fatalf("language = %q, want en", guess.Language)
	}
	if guess.Episode != 2 {
		t.Fatalf("episode = %d, want 2", guess.Episode)
	}
}

func TestParseEpisodeNameConflictNotConfident(t *testing.T) {
	guess := ParseEpisodeName("Show Ep 3 - 12.mkv")
	if guess.Confident {
		t.Fatalf("conflicting patterns must not be confident (got episode %d)", guess.Episode)
	}
}

func TestParseEpisodeNameNoSignal(t *testing.T) {
	guess := ParseEpisodeName("movie.mkv")
	if guess.Confident {
		t.Fatal("expected unconfident guess for plain filename")
	}
	if guess.Episode != 0 {
		t.Fatalf("episode = %d, want 0", guess.Episode)
	}
	if guess.Language != "unknown" {
		t.Fatalf("language = %q, want unknown", guess.Language)
	}
}
