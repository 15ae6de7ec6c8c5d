package domain

// MediaTrack describes one audio or subtitle stream inside a container.
// Index is per-type: audio track 0 is the first audio stream, subtitle
// track 0 the first subtitle stream.
type MediaTrack struct {
	Index    int    `json:"index"`
	Type     string `json:"type"`
	Codec    string `json:"codec"`
	Language string `json:"language"`
	Title    string `json:"title"`
	Default  bool   `json:"default"`
}

type MediaInfo struct {
	Audio     []MediaTrack `json:"audio"`
	Subtitles []MediaTrack `json:"subtitles"`
	Duration  float64      `json:"duration"`
}

// SubtitleTrack finds a subtitle track by its per-type index.
func (m MediaInfo) SubtitleTrack(index int) (MediaTrack, bool) {
	for _, t := range m.Subtitles {
		if t.Index == index {
			return t, true
		}
	}
	return MediaTrack{}, false
}

// TrackState marks whether a cached extraction covers the whole source file.
type TrackState string

const (
	TrackPartial  TrackState = "partial"
	TrackComplete TrackState = "complete"
)

// ExtractedTrack is the persisted index entry for one cached subtitle
// payload. The WebVTT body itself lives on disk at PayloadPath; a partial
// entry is replaced in place by a complete one once the source finishes
// downloading.
type ExtractedTrack struct {
	ContentID   ContentID  `bson:"contentId"`
	Filename    string     `bson:"filename"`
	TrackIndex  int        `bson:"trackIndex"`
	SourceCodec string     `bson:"sourceCodec"`
	State       TrackState `bson:"state"`
	PayloadPath string     `bson:"payloadPath"`
}
