package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempOutput(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempOutput(t)
	content := []byte("<!DOCTYPE html><html><body>héllo 你好</body></html>")
	if err := s.Write("index.html", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("index.html")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempOutput(t)
	if err := s.Write("blog/2024/post.html", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("blog/2024/post.html")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteOverwrites(t *testing.T) {
	s := tempOutput(t)
	_ = s.Write("page.html", []byte("original content"))
	if err := s.Write("page.html", []byte("new")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("page.html")
	if string(got) != "new" {
		t.Errorf("expected overwritten content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, ".prerender-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestWriteFileMode(t *testing.T) {
	s := tempOutput(t)
	_ = s.Write("mode.html", []byte("x"))
	info, err := os.Stat(filepath.Join(s.root, "mode.html"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("mode = %v, want 0644", info.Mode().Perm())
	}
}

func TestModTime(t *testing.T) {
	s := tempOutput(t)
	_ = s.Write("m.html", []byte("x"))
	want := time.Unix(1_600_000_000, 0)
	if err := os.Chtimes(filepath.Join(s.root, "m.html"), want, want); err != nil {
		t.Fatal(err)
	}
	got, err := s.ModTime("m.html")
	if err != nil {
		t.Fatalf("ModTime: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("ModTime = %v, want %v", got, want)
	}
}

func TestModTime_Missing(t *testing.T) {
	s := tempOutput(t)
	_, err := s.ModTime("missing.html")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestSub(t *testing.T) {
	s := tempOutput(t)
	sub, err := s.Sub("en")
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if sub.Root() != filepath.Join(s.root, "en") {
		t.Errorf("sub root = %q", sub.Root())
	}
	if err := sub.Write("index.html", []byte("en")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("en/index.html")
	if err != nil || string(got) != "en" {
		t.Errorf("Read through parent = %q, %v", got, err)
	}

	same, err := s.Sub("")
	if err != nil || same.Root() != s.Root() {
		t.Errorf("empty Sub should return the receiver")
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempOutput(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.html",
		"/etc/shadow",
		"blog/../../escape.html",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
	if _, err := s.Sub("../sibling"); err == nil {
		t.Error("expected error for escaping Sub")
	}
}

func TestNewFS_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "nested")
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	if info, err := os.Stat(fs.Root()); err != nil || !info.IsDir() {
		t.Errorf("root not created: %v", err)
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "prerender-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestIsTemp(t *testing.T) {
	if !IsTemp("/out/blog/.prerender-tmp-1234") {
		t.Error("expected temp file to be recognised")
	}
	if IsTemp("/out/blog/post.html") {
		t.Error("artifact misclassified as temp")
	}
}
