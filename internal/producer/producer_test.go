package producer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("relies on POSIX utilities")
	}
}

func TestNew_StubWhenNoCommand(t *testing.T) {
	p, err := New(Config{Command: "   "})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := p.(StubProducer); !ok {
		t.Fatalf("New() = %T, want StubProducer", p)
	}

	res, err := p.Produce(context.Background(), "U", "videos/test.mp4")
	if err != nil || !res.IsSuccess() {
		t.Errorf("StubProducer.Produce() = %+v, %v", res, err)
	}
}

func TestNewCommandProducer_MissingBinary(t *testing.T) {
	_, err := NewCommandProducer(Config{Command: "definitely-not-a-real-renderer --out {output}"})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestArgs_SubstitutesPlaceholders(t *testing.T) {
	skipOnWindows(t)

	p, err := NewCommandProducer(Config{Command: "echo --user={user_id} {output}"})
	if err != nil {
		t.Fatalf("NewCommandProducer() error = %v", err)
	}

	args := p.Args("U42", "/tmp/out.mp4")
	if got := strings.Join(args[1:], " "); got != "--user=U42 /tmp/out.mp4" {
		t.Errorf("Args() = %q", got)
	}
}

func TestProduce_WritesOutput(t *testing.T) {
	skipOnWindows(t)

	out := filepath.Join(t.TempDir(), "videos", "test.mp4")
	p, err := NewCommandProducer(Config{Command: "touch {output}", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewCommandProducer() error = %v", err)
	}

	res, err := p.Produce(context.Background(), "U1", out)
	if err != nil {
		t.Fatalf("Produce() error = %v", err)
	}
	if !res.IsSuccess() {
		t.Fatalf("Produce() exit = %d, stderr = %q", res.ExitCode, res.StderrTail)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output not created: %v", err)
	}
}

func TestProduce_NonZeroExitKeepsStderr(t *testing.T) {
	skipOnWindows(t)

	p, err := NewCommandProducer(Config{Command: "ls /nonexistent-dir-{user_id}", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewCommandProducer() error = %v", err)
	}

	res, err := p.Produce(context.Background(), "U7", filepath.Join(t.TempDir(), "out.mp4"))
	if err != nil {
		t.Fatalf("Produce() error = %v", err)
	}
	if res.IsSuccess() {
		t.Fatal("expected non-zero exit")
	}
	if !strings.Contains(res.StderrTail, "nonexistent-dir-U7") {
		t.Errorf("stderr tail = %q", res.StderrTail)
	}
}

func TestProduce_Timeout(t *testing.T) {
	skipOnWindows(t)

	p, err := NewCommandProducer(Config{Command: "sleep 5", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewCommandProducer() error = %v", err)
	}

	res, err := p.Produce(context.Background(), "U1", filepath.Join(t.TempDir(), "out.mp4"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Produce() error = %v, want deadline exceeded", err)
	}
	if res.IsSuccess() {
		t.Error("timed out run reported success")
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q", buf.String())
	}

	lw.Write([]byte(" world!"))
	if buf.String() != "llo world!" {
		t.Errorf("tail = %q, want %q", buf.String(), "llo world!")
	}

	n, _ := lw.Write([]byte("0123456789abcdef"))
	if n != 16 || buf.String() != "6789abcdef" {
		t.Errorf("large write: n=%d tail=%q", n, buf.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate() = %q", got)
	}
	if got := Truncate("0123456789", 4); got != "...6789" {
		t.Errorf("Truncate() = %q", got)
	}
}
