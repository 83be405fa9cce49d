package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pcm")
	dst := filepath.Join(dir, "dst.pcm")

	content := []byte("raw pcm bytes")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CopyFileVerified(src, dst); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

func TestCopyFileVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFileVerified(filepath.Join(dir, "missing"), filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestMoveFileSameDevice(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "out.mp3.partial")
	dst := filepath.Join(dir, "out.mp3")
	if err := os.WriteFile(src, []byte("mp3"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected source to be gone, got %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("expected destination: %v", err)
	}
}

func TestUniquePathAddsSuffix(t *testing.T) {
	dir := t.TempDir()
	first, err := UniquePath(dir, "recording_20250101_120000", ".mp3")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(first) != "recording_20250101_120000.mp3" {
		t.Fatalf("unexpected first name %q", first)
	}
	if err := os.WriteFile(first, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := UniquePath(dir, "recording_20250101_120000", ".mp3")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(second) != "recording_20250101_120000-1.mp3" {
		t.Fatalf("unexpected second name %q", second)
	}
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	for i, size := range []int{3, 5} {
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("f%d", i)), make([]byte, size), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	total, err := DirSize(dir)
	if err != nil {
		t.Fatal(err)
	}
	if total != 8 {
		t.Fatalf("DirSize = %d, want 8", total)
	}
}

func TestFreeBytes(t *testing.T) {
	free, err := FreeBytes(t.TempDir())
	if err != nil {
		t.Fatalf("FreeBytes: %v", err)
	}
	if free == 0 {
		t.Fatal("expected some free space in temp dir")
	}
}
