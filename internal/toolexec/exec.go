package toolexec

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/monitoring"
)

const (
	// DefaultStdoutLimit caps captured stdout.
	DefaultStdoutLimit = 4 << 20
	// DefaultStderrTail is how much trailing stderr is kept for error messages.
	DefaultStderrTail = 8 << 10
	maxLineBytes      = 1 << 20
)

// ErrTimeout is wrapped into errors from runs that hit their deadline.
var ErrTimeout = stderrors.New("timed out")

// Command describes one external tool invocation.
type Command struct {
	// Name labels metrics and errors, e.g. "ffmpeg".
	Name    string
	Binary  string
	Args    []string
	Timeout time.Duration
	// StdoutLimit overrides DefaultStdoutLimit when > 0.
	StdoutLimit int
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout     []byte
	StderrTail string
	Truncated  bool
}

// Run executes cmd and returns its bounded stdout.
// A missing binary yields an ErrTypeTool error; a deadline yields ErrTimeout.
func Run(ctx context.Context, cmd Command) (Result, error) {
	limit := cmd.StdoutLimit
	if limit <= 0 {
		limit = DefaultStdoutLimit
	}
	stdout := &headBuffer{limit: limit}
	stderr := &tailBuffer{limit: DefaultStderrTail}

	err := run(ctx, cmd, stdout, stderr)
	res := Result{Stdout: stdout.Bytes(), StderrTail: stderr.String(), Truncated: stdout.truncated}
	return res, err
}

// RunLines executes cmd and calls onLine for every stdout line as it arrives.
func RunLines(ctx context.Context, cmd Command, onLine func(string)) (Result, error) {
	pr, pw := io.Pipe()
	stderr := &tailBuffer{limit: DefaultStderrTail}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64<<10), maxLineBytes)
		// yt-dlp rewrites progress with \r when --newline is missing
		scanner.Split(scanLinesOrCR)
		for scanner.Scan() {
			if onLine != nil {
				onLine(scanner.Text())
			}
		}
		io.Copy(io.Discard, pr)
	}()

	err := run(ctx, cmd, pw, stderr)
	pw.Close()
	wg.Wait()

	return Result{StderrTail: stderr.String()}, err
}

func run(ctx context.Context, cmd Command, stdout io.Writer, stderr *tailBuffer) error {
	binary := strings.TrimSpace(cmd.Binary)
	if binary == "" {
		return apperrors.NewToolError(cmd.Name, "command not configured", nil)
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return apperrors.NewToolError(cmd.Name, fmt.Sprintf("binary %q not found", binary), err)
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, path, cmd.Args...)
	c.Stdout = stdout
	c.Stderr = stderr
	c.WaitDelay = 5 * time.Second

	start := time.Now()
	err = c.Run()
	monitoring.RecordTool(cmd.Name, err, time.Since(start))
	if err == nil {
		return nil
	}

	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s %w after %s: %w", cmd.Name, ErrTimeout, cmd.Timeout, ctx.Err())
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s cancelled: %w", cmd.Name, ctx.Err())
	}

	if detail := strings.TrimSpace(stderr.String()); detail != "" {
		return fmt.Errorf("%s failed: %w: %s", cmd.Name, err, detail)
	}
	return fmt.Errorf("%s failed: %w", cmd.Name, err)
}

// headBuffer keeps the first limit bytes written to it.
type headBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func (b *headBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - len(b.buf)
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *headBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func scanLinesOrCR(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, c := range data {
		if c == '\n' || c == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
