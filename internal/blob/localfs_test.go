package blob

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/babeldoc-web/api-go/internal/model"
)

// TestPutExistsOpen round-trips a file through the root.
func TestPutExistsOpen(t *testing.T) {
	l := LocalFS{Root: t.TempDir()}
	abs, err := l.Put("uploads/a.pdf", strings.NewReader("pdf"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !l.Exists("uploads/a.pdf") {
		t.Fatal("file not found after put")
	}
	if _, err := os.Stat(abs); err != nil {
		t.Fatalf("returned path: %v", err)
	}
	f, err := l.Open("uploads/a.pdf")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.Close()
	if l.Exists("uploads") {
		t.Fatal("directory reported as file")
	}
}

// TestResolveRejectsEscapes blocks traversal out of the root.
func TestResolveRejectsEscapes(t *testing.T) {
	l := LocalFS{Root: t.TempDir()}
	for _, p := range []string{"../x", "a/../../x", "/etc/passwd"} {
		if _, err := l.Put(p, strings.NewReader("")); !errors.Is(err, model.ErrInvalid) {
			t.Fatalf("put %q err = %v", p, err)
		}
		if l.Exists(p) {
			t.Fatalf("exists %q", p)
		}
	}
}

// TestWalkFiltersByExtension scans recursively.
func TestWalkFiltersByExtension(t *testing.T) {
	l := LocalFS{Root: t.TempDir()}
	for _, p := range []string{"j1/a.mono.pdf", "j1/a.dual.PDF", "j2/deep/b.pdf", "j2/notes.txt"} {
		if _, err := l.Put(p, strings.NewReader("data")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	files, err := l.Walk(".pdf")
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("files = %+v", files)
	}
	for _, f := range files {
		if f.Size != 4 || !filepath.IsAbs(f.Path) {
			t.Fatalf("file = %+v", f)
		}
	}
}

// TestWalkMissingRoot returns nothing.
func TestWalkMissingRoot(t *testing.T) {
	l := LocalFS{Root: filepath.Join(t.TempDir(), "missing")}
	files, err := l.Walk("")
	if err != nil || len(files) != 0 {
		t.Fatalf("walk = %v, %v", files, err)
	}
}

// TestRemoveStaysInsideRoot refuses foreign paths.
func TestRemoveStaysInsideRoot(t *testing.T) {
	dir := t.TempDir()
	l := LocalFS{Root: filepath.Join(dir, "outputs")}
	outside := filepath.Join(dir, "keep.pdf")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Remove(outside); !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("remove outside err = %v", err)
	}
	inside, err := l.Put("j/a.pdf", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Remove(inside); err != nil {
		t.Fatalf("remove inside: %v", err)
	}
	if err := l.Remove(inside); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("second remove err = %v", err)
	}
}
