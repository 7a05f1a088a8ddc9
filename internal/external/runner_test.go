package external

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRun_CapturesStdout(t *testing.T) {
	res, err := Run(context.Background(), time.Second, "echo", "hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hello")
	}
}

func TestRun_NonZeroExitWrapsStderr(t *testing.T) {
	_, err := Run(context.Background(), time.Second, "sh", "-c", "echo boom 1>&2; exit 1")
	if err == nil {
		t.Fatal("Run with a failing command returned nil error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q does not include captured stderr", err.Error())
	}
}

func TestRun_DeadlineExceeded(t *testing.T) {
	_, err := Run(context.Background(), 10*time.Millisecond, "sleep", "5")
	if err == nil {
		t.Fatal("Run with a timeout returned nil error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error %v does not wrap context.DeadlineExceeded", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short string) = %q, want unchanged", got)
	}
	got := truncate("0123456789abcdef", 5)
	want := "01234" + "...(truncated)"
	if got != want {
		t.Errorf("truncate(long string) = %q, want %q", got, want)
	}
}
