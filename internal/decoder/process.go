package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// stderrTail keeps the last few KB a process wrote to stderr for error messages
type stderrTail struct {
	mu  sync.Mutex
	buf []byte
}

const stderrTailSize = 2048

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - stderrTailSize; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// process is one running ffmpeg child streaming to stdout
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *stderrTail
	once   sync.Once
	err    error
}

func startProcess(path string, args []string) (*process, error) {
	cmd := exec.Command(path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	tail := &stderrTail{}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	return &process{cmd: cmd, stdout: stdout, stderr: tail}, nil
}

// read fills p from stdout. If ctx ends first the process is killed, which
// unblocks the read, and ctx.Err() is returned.
func (p *process) read(ctx context.Context, buf []byte) (int, error) {
	stop := context.AfterFunc(ctx, func() { p.kill() })
	n, err := io.ReadFull(p.stdout, buf)
	if !stop() {
		return n, ctx.Err()
	}
	return n, err
}

// kill terminates and reaps the process; safe to call repeatedly
func (p *process) kill() {
	p.once.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		p.err = p.cmd.Wait()
	})
}

// finish waits for a process whose stdout reached EOF and reports whether it
// exited cleanly
func (p *process) finish() error {
	p.once.Do(func() {
		p.err = p.cmd.Wait()
	})
	var exitErr *exec.ExitError
	if p.err != nil && errors.As(p.err, &exitErr) {
		if msg := p.stderr.String(); msg != "" {
			return fmt.Errorf("ffmpeg exited: %w: %s", p.err, msg)
		}
		return fmt.Errorf("ffmpeg exited: %w", p.err)
	}
	return nil
}

// processRef holds the current process of a decoder. It is kept apart from
// the decoder so a runtime cleanup can reach it without keeping the decoder
// alive.
type processRef struct {
	mu   sync.Mutex
	proc *process
}

func (r *processRef) set(p *process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proc = p
}

func (r *processRef) kill() {
	r.mu.Lock()
	p := r.proc
	r.proc = nil
	r.mu.Unlock()
	if p != nil {
		p.kill()
	}
}
