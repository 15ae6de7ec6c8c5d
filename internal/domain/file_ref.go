package domain

import "path"

// FileRef identifies one file inside a torrent. Name is the base filename
// used by the HTTP surface; Path is relative to the torrent data dir.
type FileRef struct {
	Index          int    `bson:"index" json:"index"`
	Path           string `bson:"path" json:"-"`
	Name           string `bson:"name" json:"name"`
	Length         int64  `bson:"length" json:"length"`
	BytesCompleted int64  `bson:"bytesCompleted" json:"bytesCompleted"`
}

// Progress returns the downloaded fraction of the file in [0,1].
func (f FileRef) Progress() float64 {
	if f.Length <= 0 {
		return 0
	}
	p := float64(f.BytesCompleted) / float64(f.Length)
	if p > 1 {
		p = 1
	}
	return p
}

// BaseName derives Name from Path when the engine did not set it.
func (f FileRef) BaseName() string {
	if f.Name != "" {
		return f.Name
	}
	return path.Base(f.Path)
}

// Range is a byte window inside a file.
type Range struct {
	Off    int64
	Length int64
}
