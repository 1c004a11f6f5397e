// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// defaultReadLimit bounds read_text_file output.
const defaultReadLimit = 64 << 10

// Files implements read-only filesystem helpers rooted in one directory.
// Paths that resolve outside the root are rejected.
type Files struct {
	root string
}

// NewFiles roots the helpers at dir.
func NewFiles(dir string) (*Files, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving files root %s: %w", dir, err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return &Files{root: abs}, nil
}

// DirEntry is one list_directory result.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// Operations returns list_directory and read_text_file.
func (f *Files) Operations() []Operation {
	return []Operation{
		&Func{
			K:      KindListDirectory,
			Desc:   "List the entries of a directory relative to the allowed root. Use \".\" for the root.",
			Params: object(map[string]any{"path": str("directory path relative to the root")}),
			Fn: func(_ context.Context, args map[string]any) (any, error) {
				return f.List(optString(args, "path", "."))
			},
		},
		&Func{
			K:    KindReadTextFile,
			Desc: "Read a text file relative to the allowed root.",
			Params: object(map[string]any{
				"path":      str("file path relative to the root"),
				"max_bytes": integer("maximum bytes to return"),
			}, "path"),
			Fn: func(_ context.Context, args map[string]any) (any, error) {
				p, err := stringArg(args, "path")
				if err != nil {
					return nil, err
				}
				return f.Read(p, optInt(args, "max_bytes", defaultReadLimit))
			},
		},
	}
}

// resolve maps a model-supplied path to an absolute path under the root.
// Symlinks are followed before the check, so a link cannot point outside.
func (f *Files) resolve(p string) (string, error) {
	clean := filepath.Clean(p)
	if !filepath.IsAbs(clean) {
		clean = filepath.Join(f.root, clean)
	}
	if !f.inside(clean) {
		return "", fmt.Errorf("path %q is outside the allowed directory", p)
	}
	real, err := filepath.EvalSymlinks(clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("path %q: %w", p, fs.ErrNotExist)
		}
		return "", fmt.Errorf("resolving %s: %w", p, err)
	}
	if !f.inside(real) {
		return "", fmt.Errorf("path %q is outside the allowed directory", p)
	}
	return real, nil
}

func (f *Files) inside(abs string) bool {
	rel, err := filepath.Rel(f.root, abs)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// List returns the entries of dir.
func (f *Files) List(dir string) ([]DirEntry, error) {
	abs, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		d := DirEntry{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			d.Size = info.Size()
		}
		out = append(out, d)
	}
	return out, nil
}

// Read returns up to limit bytes of the file at p.
func (f *Files) Read(p string, limit int) (string, error) {
	abs, err := f.resolve(p)
	if err != nil {
		return "", err
	}
	if limit <= 0 || limit > defaultReadLimit {
		limit = defaultReadLimit
	}
	fh, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", p, err)
	}
	defer fh.Close()

	data, err := io.ReadAll(io.LimitReader(fh, int64(limit)))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", p, err)
	}
	return string(data), nil
}
