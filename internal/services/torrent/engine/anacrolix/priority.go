package anacrolix

import (
	"log/slog"

	"github.com/anacrolix/torrent"

	"swarmstream/internal/domain"
)

type pieceSpan struct {
	start int
	end   int
}

func mapPriority(prio domain.Priority) torrent.PiecePriority {
	switch prio {
	case domain.PriorityNone:
		return torrent.PiecePriorityNone
	case domain.PriorityHigh:
		return torrent.PiecePriorityNow
	case domain.PriorityNext:
		return torrent.PiecePriorityNext
	case domain.PriorityReadahead:
		return torrent.PiecePriorityReadahead
	default:
		return torrent.PiecePriorityNormal
	}
}

func applyPiecePriority(t *torrent.Torrent, file domain.FileRef, r domain.Range, prio domain.Priority) {
	defer func() {
		if rec := recover(); rec != nil {
			// anacrolix can panic if the torrent is dropped concurrently.
			slog.Warn("piece priority apply recovered", slog.Any("panic", rec))
		}
	}()

	files := t.Files()
	if file.Index < 0 || file.Index >= len(files) {
		return
	}

	span, ok := byteRangeToPieces(t, files[file.Index], r)
	if !ok {
		return
	}
	target := mapPriority(prio)
	for i := span.start; i < span.end; i++ {
		t.Piece(i).SetPriority(target)
	}
}

// byteRangeToPieces translates a byte window inside a file into the span
// of torrent pieces covering it, clamped to the file and torrent bounds.
func byteRangeToPieces(t *torrent.Torrent, f *torrent.File, r domain.Range) (pieceSpan, bool) {
	if t == nil || f == nil || r.Length <= 0 {
		return pieceSpan{}, false
	}
	pieceSize := int64(t.Info().PieceLength)
	if pieceSize <= 0 {
		return pieceSpan{}, false
	}
	fileOffset := f.Offset()
	fileEnd := fileOffset + f.Length()
	start := fileOffset + r.Off
	if start < fileOffset {
		start = fileOffset
	}
	if start >= fileEnd {
		return pieceSpan{}, false
	}
	end := start + r.Length
	if end > fileEnd || end < start {
		end = fileEnd
	}

	span := pieceSpan{
		start: int(start / pieceSize),
		end:   int((end + pieceSize - 1) / pieceSize),
	}
	numPieces := t.NumPieces()
	if numPieces <= 0 || span.start >= numPieces {
		return pieceSpan{}, false
	}
	if span.start < 0 {
		span.start = 0
	}
	if span.end > numPieces {
		span.end = numPieces
	}
	if span.end <= span.start {
		span.end = span.start + 1
	}
	return span, true
}
