package anacrolix

import (
	"testing"

	"github.com/anacrolix/torrent"

	"swarmstream/internal/domain"
)

func TestMapPriority(t *testing.T) {
	cases := []struct {
		in   domain.Priority
		want torrent.PiecePriority
	}{
		{domain.PriorityNone, torrent.PiecePriorityNone},
		{domain.PriorityLow, torrent.PiecePriorityNormal},
		{domain.PriorityNormal, torrent.PiecePriorityNormal},
		{domain.PriorityReadahead, torrent.PiecePriorityReadahead},
		{domain.PriorityNext, torrent.PiecePriorityNext},
		{domain.PriorityHigh, torrent.PiecePriorityNow},
	}
	for _, tc := range cases {
		if got := mapPriority(tc.in); got != tc.want {
			t.Fatalf("mapPriority(%d) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
