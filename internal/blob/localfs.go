package blob

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/babeldoc-web/api-go/internal/model"
)

// LocalFS is a directory of uploads, glossaries or engine outputs.
type LocalFS struct {
	Root string
}

// File is one regular file found under the root.
type File struct {
	Path string
	Size int64
}

func (l LocalFS) resolve(relPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("path %q escapes %s: %w", relPath, l.Root, model.ErrInvalid)
	}
	return filepath.Join(l.Root, clean), nil
}

func (l LocalFS) Put(relPath string, r io.Reader) (string, error) {
	abs, err := l.resolve(relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return abs, nil
}

func (l LocalFS) Open(relPath string) (*os.File, error) {
	abs, err := l.resolve(relPath)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

func (l LocalFS) Exists(relPath string) bool {
	abs, err := l.resolve(relPath)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// Path returns the location of relPath under the root.
func (l LocalFS) Path(relPath string) (string, error) {
	return l.resolve(relPath)
}

// Walk lists regular files under the root whose extension matches ext
// (case-insensitive; "" matches all). A missing root yields no files.
func (l LocalFS) Walk(ext string) ([]File, error) {
	root, err := filepath.Abs(l.Root)
	if err != nil {
		return nil, err
	}
	var out []File
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, File{Path: path, Size: info.Size()})
		return nil
	})
	return out, err
}

// Contains reports whether path lies inside the root.
func (l LocalFS) Contains(path string) bool {
	root, err := filepath.Abs(l.Root)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	return err == nil && filepath.IsLocal(rel)
}

// Remove deletes a file inside the root. Paths outside the root are refused.
func (l LocalFS) Remove(path string) error {
	if !l.Contains(path) {
		return fmt.Errorf("remove %q outside %s: %w", path, l.Root, fs.ErrPermission)
	}
	return os.Remove(path)
}
