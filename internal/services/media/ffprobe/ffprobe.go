package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"swarmstream/internal/domain"
)

// Prober wraps the ffprobe binary. One Probe call is one subprocess; a
// failure is isolated to the request that triggered it.
type Prober struct {
	binary string
}

func New(binary string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin}
}

const maxProbeTimeout = 30 * time.Second

var probeArgs = []string{
	"-v", "quiet",
	"-probesize", "100M",
	"-analyzeduration", "100M",
	"-print_format", "json",
	"-show_streams",
	"-show_format",
}

func (p *Prober) Probe(ctx context.Context, filePath string) (domain.MediaInfo, error) {
	path := strings.TrimSpace(filePath)
	if path == "" {
		return domain.MediaInfo{}, errors.New("file path is required")
	}
	return p.run(ctx, append(append([]string{}, probeArgs...), path), nil)
}

// ProbeReader probes from a stream. Useful for torrent-partial matroska
// files where a path probe can expose only a subset of streams.
func (p *Prober) ProbeReader(ctx context.Context, reader io.Reader) (domain.MediaInfo, error) {
	if reader == nil {
		return domain.MediaInfo{}, errors.New("reader is required")
	}
	return p.run(ctx, append(append([]string{}, probeArgs...), "-i", "pipe:0"), reader)
}

func (p *Prober) run(ctx context.Context, args []string, stdin io.Reader) (domain.MediaInfo, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, p.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	info, parseErr := parseOutput(stdout.Bytes())
	if parseErr != nil {
		return domain.MediaInfo{}, analysisError(runErr, parseErr, stderr.String())
	}
	// ffprobe exits non-zero for partially downloaded files but often still
	// emits usable stream metadata. Keep it when we got any.
	if runErr != nil && len(info.Audio) == 0 && len(info.Subtitles) == 0 {
		return domain.MediaInfo{}, analysisError(runErr, nil, stderr.String())
	}
	return info, nil
}

func analysisError(runErr, parseErr error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	switch {
	case runErr != nil && msg != "":
		return fmt.Errorf("%w: %v: %s", domain.ErrAnalysisFailed, runErr, msg)
	case runErr != nil:
		return fmt.Errorf("%w: %v", domain.ErrAnalysisFailed, runErr)
	default:
		return fmt.Errorf("%w: output parse: %v", domain.ErrAnalysisFailed, parseErr)
	}
}

type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType   string            `json:"codec_type"`
	CodecName   string            `json:"codec_name"`
	Tags        map[string]string `json:"tags"`
	Disposition struct {
		Default int `json:"default"`
	} `json:"disposition"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

func parseOutput(data []byte) (domain.MediaInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.MediaInfo{}, err
	}

	var info domain.MediaInfo
	for _, stream := range payload.Streams {
		track := domain.MediaTrack{
			Type:     stream.CodecType,
			Codec:    stream.CodecName,
			Language: languageTag(stream.Tags),
			Title:    strings.TrimSpace(getTag(stream.Tags, "title")),
			Default:  stream.Disposition.Default == 1,
		}
		switch stream.CodecType {
		case "audio":
			track.Index = len(info.Audio)
			info.Audio = append(info.Audio, track)
		case "subtitle":
			track.Index = len(info.Subtitles)
			info.Subtitles = append(info.Subtitles, track)
		}
	}

	if payload.Format.Duration != "" {
		if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil && d > 0 {
			info.Duration = d
		}
	}
	return info, nil
}

func languageTag(tags map[string]string) string {
	lang := strings.TrimSpace(getTag(tags, "language"))
	if lang == "" || lang == "und" {
		return "unknown"
	}
	return lang
}

func getTag(tags map[string]string, key string) string {
	if len(tags) == 0 {
		return ""
	}
	if value, ok := tags[key]; ok {
		return value
	}
	if value, ok := tags[strings.ToUpper(key)]; ok {
		return value
	}
	return ""
}
