package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fieldsync/internal/logs"
)

func TestTailLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.log")
	if err := os.WriteFile(path, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	lines, offset, err := logs.Tail(path, 2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(lines) != 2 || lines[0] != "b" || lines[1] != "c" {
		t.Fatalf("lines = %#v", lines)
	}
	if offset == 0 {
		t.Fatal("expected offset to advance")
	}
}

func TestTailMissingFileIsEmpty(t *testing.T) {
	lines, offset, err := logs.Tail(filepath.Join(t.TempDir(), "absent.log"), 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(lines) != 0 || offset != 0 {
		t.Fatalf("lines = %#v, offset = %d", lines, offset)
	}
}

func TestTailLimitLargerThanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.log")
	if err := os.WriteFile(path, []byte("only\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	lines, _, err := logs.Tail(path, 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(lines) != 1 || lines[0] != "only" {
		t.Fatalf("lines = %#v", lines)
	}
}

func TestFollowDeliversAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.log")
	if err := os.WriteFile(path, []byte("first\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	_, offset, err := logs.Tail(path, 0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	received := make(chan string, 4)
	go func() {
		_ = logs.Follow(ctx, path, offset, func(line string) {
			received <- line
		})
	}()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("second\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	select {
	case line := <-received:
		if line != "second" {
			t.Fatalf("line = %q", line)
		}
	case <-ctx.Done():
		t.Fatal("no line delivered")
	}
}
