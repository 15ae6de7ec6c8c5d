package domain

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// ErrBuffering signals that an operation cannot run yet because the backing
// file has not downloaded far enough. It is transient; callers retry.
var ErrBuffering = errors.New("buffering")

// ErrAnalysisFailed signals that the media analysis subprocess could not
// parse a file that met its readiness threshold. Terminal for the request.
var ErrAnalysisFailed = errors.New("media analysis failed")

// BufferingError carries download progress alongside ErrBuffering so the
// HTTP layer can return a retry hint.
type BufferingError struct {
	Progress float64 // 0..1 of the backing file
}

func (e *BufferingError) Error() string {
	return fmt.Sprintf("buffering: %.1f%% downloaded", e.Progress*100)
}

func (e *BufferingError) Unwrap() error { return ErrBuffering }

// FileNotFoundError reports an unknown filename within a known torrent,
// carrying the available names for the diagnostic 404 body.
type FileNotFoundError struct {
	Name      string
	Available []string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file %q not found in torrent", e.Name)
}

func (e *FileNotFoundError) Unwrap() error { return ErrNotFound }
