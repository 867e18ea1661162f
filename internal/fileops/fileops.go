// Package fileops holds the filesystem primitives every tier transition is
// built from. Writes go through a temp file in the destination directory and
// a rename, so the canonical path never holds a partial file.
package fileops

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"assetlibrary/internal/apperr"
)

const (
	tempPattern = ".staging-*"
	tempPrefix  = ".staging-"
)

// Staged is a fully written temp file waiting to be renamed into place.
type Staged struct {
	path string
	size int64
	done bool
}

func (s *Staged) Path() string { return s.path }
func (s *Staged) Size() int64  { return s.size }

// Stage writes r into a temp file inside dir.
func Stage(dir string, r io.Reader) (*Staged, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.IO("stage", err)
	}
	f, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return nil, apperr.IO("stage", err)
	}
	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return nil, apperr.IO("stage", err)
	}
	return &Staged{path: f.Name(), size: n}, nil
}

// Commit renames the staged file onto dst, replacing anything there.
func (s *Staged) Commit(dst string) error {
	if s.done {
		return apperr.Invalid("commit", "staged file %s already consumed", s.path)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperr.IO("commit", err)
	}
	if err := os.Rename(s.path, dst); err != nil {
		return apperr.IO("commit", err)
	}
	s.done = true
	return nil
}

// Discard removes the temp file if it was not committed. Safe to call twice.
func (s *Staged) Discard() {
	if s == nil || s.done {
		return
	}
	s.done = true
	os.Remove(s.path)
}

// WriteAtomic writes r to dst via a temp file and rename.
func WriteAtomic(dst string, r io.Reader) (int64, error) {
	st, err := Stage(filepath.Dir(dst), r)
	if err != nil {
		return 0, err
	}
	if err := st.Commit(dst); err != nil {
		st.Discard()
		return 0, err
	}
	return st.Size(), nil
}

// CopyVerified copies src to dst atomically and checks that the destination
// carries the same number of bytes as the source.
func CopyVerified(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, apperr.IO("copy", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, apperr.IO("copy", err)
	}

	st, err := Stage(filepath.Dir(dst), in)
	if err != nil {
		return 0, err
	}
	if st.Size() != info.Size() {
		st.Discard()
		return 0, apperr.New(apperr.KindIO, "copy", "short copy of %s: %d of %d bytes", src, st.Size(), info.Size())
	}
	if err := st.Commit(dst); err != nil {
		st.Discard()
		return 0, err
	}

	out, err := os.Stat(dst)
	if err != nil {
		return 0, apperr.IO("verify", err)
	}
	if out.Size() != info.Size() {
		return 0, apperr.New(apperr.KindIO, "verify", "size mismatch for %s: %d != %d", dst, out.Size(), info.Size())
	}
	return out.Size(), nil
}

// Remove deletes path; a missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.IO("remove", err)
	}
	return nil
}

// RemoveAll deletes a directory tree; a missing directory is not an error.
func RemoveAll(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return apperr.IO("remove", err)
	}
	return nil
}

// PruneEmptyDirs removes dir and its empty parents up to, not including, stop.
func PruneEmptyDirs(dir, stop string) {
	stop = filepath.Clean(stop)
	for dir = filepath.Clean(dir); dir != stop && len(dir) > len(stop); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Size returns the size of path or -1 when it cannot be stat'ed.
func Size(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}

// SweepStaging removes temp files under root that were last written before
// cutoff. Younger ones may belong to a write still in progress. It returns
// the removed paths relative to root, slash separated.
func SweepStaging(root string, cutoff time.Time) ([]string, error) {
	var removed []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := Remove(p); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		removed = append(removed, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return removed, apperr.IO("sweep staging", err)
	}
	return removed, nil
}
