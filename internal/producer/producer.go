// Package producer runs the external generator that renders a user's model
// video. The generator's exit is the completion signal for the upload.
package producer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxStderrBytes = 8 * 1024

const (
	PlaceholderUserID = "{user_id}"
	PlaceholderOutput = "{output}"
)

type Producer interface {
	Produce(ctx context.Context, userID, outputPath string) (Result, error)
}

type Result struct {
	ExitCode   int
	StderrTail string
	Duration   time.Duration
}

func (r Result) IsSuccess() bool {
	return r.ExitCode == 0
}

type Config struct {
	// Command is split on whitespace; no shell is involved.
	Command string
	Timeout time.Duration
	Logger  *slog.Logger
}

// New returns a StubProducer when no command is configured.
func New(cfg Config) (Producer, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return StubProducer{}, nil
	}
	return NewCommandProducer(cfg)
}

type CommandProducer struct {
	cfg  Config
	argv []string
}

func NewCommandProducer(cfg Config) (*CommandProducer, error) {
	argv := strings.Fields(cfg.Command)
	if len(argv) == 0 {
		return nil, errors.New("producer command is empty")
	}

	bin, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("producer binary %q not found: %w", argv[0], err)
	}
	argv[0] = bin

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	return &CommandProducer{cfg: cfg, argv: argv}, nil
}

// Args returns the command line for one run with placeholders substituted.
func (p *CommandProducer) Args(userID, outputPath string) []string {
	r := strings.NewReplacer(PlaceholderUserID, userID, PlaceholderOutput, outputPath)
	args := make([]string, len(p.argv))
	for i, a := range p.argv {
		args[i] = r.Replace(a)
	}
	return args
}

func (p *CommandProducer) Produce(ctx context.Context, userID, outputPath string) (Result, error) {
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return Result{ExitCode: -1, Duration: time.Since(start)}, fmt.Errorf("create output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	args := p.Args(userID, outputPath)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = io.Discard

	p.cfg.Logger.Info("running producer", "user_id", userID, "args", args[1:], "timeout", p.cfg.Timeout)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	result := Result{
		ExitCode:   exitCode,
		StderrTail: stderrBuf.String(),
		Duration:   elapsed,
	}

	if ctx.Err() != nil {
		p.cfg.Logger.Warn("producer timed out or was cancelled", "user_id", userID, "duration_ms", elapsed.Milliseconds())
		return result, fmt.Errorf("producer: %w", ctx.Err())
	}

	if exitCode != 0 {
		p.cfg.Logger.Warn("producer failed",
			"user_id", userID,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", Truncate(result.StderrTail, 512),
		)
	} else {
		p.cfg.Logger.Info("producer finished", "user_id", userID, "duration_ms", elapsed.Milliseconds())
	}

	return result, nil
}

// StubProducer assumes the video is produced elsewhere.
type StubProducer struct{}

func (StubProducer) Produce(ctx context.Context, userID, outputPath string) (Result, error) {
	return Result{}, ctx.Err()
}

// Truncate keeps the last maxLen bytes of s.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last limit bytes written to it.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n >= lw.limit {
		lw.w.Reset()
		lw.w.Write(p[n-lw.limit:])
		return n, nil
	}
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		tail := append([]byte(nil), lw.w.Bytes()[lw.w.Len()-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
