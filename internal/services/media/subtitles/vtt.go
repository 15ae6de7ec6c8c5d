package subtitles

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cue is one subtitle line with millisecond timing.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// EmptyVTT is the valid WebVTT document served for tracks with no cues.
// "no lines" is a legal subtitle state, not an error.
const EmptyVTT = "WEBVTT\n\n"

// ConvertSRTToVTT normalizes ffmpeg's native SRT output to WebVTT:
// cue numbers are dropped and the timestamp millisecond separator is
// rewritten from comma to dot. Malformed input degrades to an empty but
// valid document.
func ConvertSRTToVTT(data []byte) []byte {
	cues := ParseSRT(string(data))
	return []byte(FormatVTT(cues))
}

// ParseSRT parses an SRT document, skipping malformed blocks.
func ParseSRT(src string) []Cue {
	return parseCues(src, ",")
}

// ParseVTT parses a WebVTT document, skipping the header and malformed blocks.
func ParseVTT(src string) []Cue {
	return parseCues(src, ".")
}

func parseCues(src, msSep string) []Cue {
	var cues []Cue
	blocks := strings.Split(normalizeNewlines(src), "\n\n")
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) == 0 {
			continue
		}
		// Leading cue number (SRT) or header line (VTT) is skipped.
		i := 0
		if strings.HasPrefix(lines[0], "WEBVTT") || isCueNumber(lines[0]) {
			i = 1
		}
		if i >= len(lines) {
			continue
		}
		start, end, ok := parseTimingLine(lines[i], msSep)
		if !ok {
			continue
		}
		text := strings.Join(lines[i+1:], "\n")
		cues = append(cues, Cue{Start: start, End: end, Text: text})
	}
	return cues
}

// FormatVTT renders cues as a WebVTT document.
func FormatVTT(cues []Cue) string {
	if len(cues) == 0 {
		return EmptyVTT
	}
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, cue := range cues {
		b.WriteString(formatTimestamp(cue.Start, "."))
		b.WriteString(" --> ")
		b.WriteString(formatTimestamp(cue.End, "."))
		b.WriteString("\n")
		b.WriteString(cue.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

// FormatSRT renders cues as an SRT document with 1-based cue numbers.
func FormatSRT(cues []Cue) string {
	var b strings.Builder
	for i, cue := range cues {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("\n")
		b.WriteString(formatTimestamp(cue.Start, ","))
		b.WriteString(" --> ")
		b.WriteString(formatTimestamp(cue.End, ","))
		b.WriteString("\n")
		b.WriteString(cue.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

func parseTimingLine(line, msSep string) (time.Duration, time.Duration, bool) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, ok := parseTimestamp(strings.TrimSpace(parts[0]), msSep)
	if !ok {
		return 0, 0, false
	}
	// VTT timing lines may carry cue settings after the end timestamp.
	endField := strings.Fields(strings.TrimSpace(parts[1]))
	if len(endField) == 0 {
		return 0, 0, false
	}
	end, ok := parseTimestamp(endField[0], msSep)
	if !ok {
		return 0, 0, false
	}
	return start, end, true
}

func parseTimestamp(ts, msSep string) (time.Duration, bool) {
	main, msPart, found := strings.Cut(ts, msSep)
	if !found {
		// Tolerate the other separator: real-world files mix them.
		alt := ","
		if msSep == "," {
			alt = "."
		}
		main, msPart, found = strings.Cut(ts, alt)
		if !found {
			return 0, false
		}
	}
	fields := strings.Split(main, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, false
	}
	var h, m, s int
	var err error
	if len(fields) == 3 {
		if h, err = strconv.Atoi(fields[0]); err != nil {
			return 0, false
		}
		fields = fields[1:]
	}
	if m, err = strconv.Atoi(fields[0]); err != nil {
		return 0, false
	}
	if s, err = strconv.Atoi(fields[1]); err != nil {
		return 0, false
	}
	ms, err := strconv.Atoi(msPart)
	if err != nil {
		return 0, false
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ms)*time.Millisecond, true
}

func formatTimestamp(d time.Duration, msSep string) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	ms := (d - s*time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, msSep, ms)
}

func isCueNumber(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	_, err := strconv.Atoi(line)
	return err == nil
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
