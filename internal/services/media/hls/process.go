package hls

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
)

// process wraps an ffmpeg exec.Cmd with out_time_us progress tracking
// read from the -progress pipe:1 stream.
type process struct {
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	progressUs int64 // atomic
	done       chan struct{}
	err        error
	stderrBuf  bytes.Buffer
}

func newProcess(ctx context.Context, ffmpegPath string, args []string, dir string) *process {
	ctx2, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx2, ffmpegPath, args...)
	cmd.Dir = dir
	return &process{
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (p *process) Start() error {
	progressR, progressW, pipeErr := os.Pipe()
	if pipeErr != nil {
		p.cmd.Stdout = nil
	} else {
		p.cmd.Stdout = progressW
	}
	p.cmd.Stderr = &p.stderrBuf

	if err := p.cmd.Start(); err != nil {
		if progressR != nil {
			progressR.Close()
		}
		if progressW != nil {
			progressW.Close()
		}
		return err
	}

	if progressW != nil {
		progressW.Close()
	}
	if progressR != nil {
		go p.parseProgress(progressR)
	}

	go func() {
		p.err = p.cmd.Wait()
		close(p.done)
	}()

	return nil
}

func (p *process) Stop() {
	p.cancel()
}

// Progress returns the encoded position in seconds.
func (p *process) Progress() float64 {
	us := atomic.LoadInt64(&p.progressUs)
	if us <= 0 {
		return 0
	}
	return float64(us) / 1e6
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

func (p *process) IsDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) Err() error {
	return p.err
}

func (p *process) Stderr() string {
	return strings.TrimSpace(p.stderrBuf.String())
}

func (p *process) parseProgress(r *os.File) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "out_time_us=") {
			if us, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_us="), 10, 64); err == nil {
				atomic.StoreInt64(&p.progressUs, us)
			}
		}
	}
}
