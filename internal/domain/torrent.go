package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// ContentID is the canonical torrent identity: the hex info-hash.
type ContentID string

// TorrentSource is what a client hands us to open a swarm: a full magnet
// URI or a bare 40/64-char hex info-hash.
type TorrentSource struct {
	Magnet string
}

var hexHashRe = regexp.MustCompile(`^[0-9a-fA-F]{40}$|^[0-9a-fA-F]{64}$`)

// NormalizeSource accepts a magnet URI or a bare info-hash and returns a
// magnet URI, or an error for anything else.
func NormalizeSource(identifier string) (TorrentSource, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return TorrentSource{}, errors.New("empty torrent identifier")
	}
	if strings.HasPrefix(strings.ToLower(id), "magnet:") {
		return TorrentSource{Magnet: id}, nil
	}
	if hexHashRe.MatchString(id) {
		return TorrentSource{Magnet: "magnet:?xt=urn:btih:" + strings.ToLower(id)}, nil
	}
	return TorrentSource{}, errors.New("identifier is neither a magnet URI nor an info-hash")
}

// InfoHashFromMagnet extracts the btih value from a magnet URI, or "".
func InfoHashFromMagnet(magnet string) string {
	lower := strings.ToLower(magnet)
	idx := strings.Index(lower, "xt=urn:btih:")
	if idx == -1 {
		return ""
	}
	rest := magnet[idx+len("xt=urn:btih:"):]
	if end := strings.IndexByte(rest, '&'); end != -1 {
		rest = rest[:end]
	}
	return strings.ToLower(rest)
}

// TorrentRecord is the persisted form of an added torrent. Records survive
// restarts so completed downloads can be re-seeded on boot.
type TorrentRecord struct {
	ID         ContentID `bson:"_id" json:"id"`
	Name       string    `bson:"name" json:"name"`
	Magnet     string    `bson:"magnet" json:"-"`
	Files      []FileRef `bson:"files" json:"files"`
	TotalBytes int64     `bson:"totalBytes" json:"totalBytes"`
	DoneBytes  int64     `bson:"doneBytes" json:"doneBytes"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt" json:"updatedAt"`
}

// SwarmStats is a live snapshot of one swarm.
type SwarmStats struct {
	ID            ContentID `json:"id"`
	Name          string    `json:"name"`
	Length        int64     `json:"length"`
	Downloaded    int64     `json:"downloaded"`
	Uploaded      int64     `json:"uploaded"`
	DownloadSpeed int64     `json:"downloadSpeed"`
	UploadSpeed   int64     `json:"uploadSpeed"`
	Progress      float64   `json:"progress"`
	Peers         int       `json:"numPeers"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
