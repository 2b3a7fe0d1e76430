// Package storage provides the on-disk rendition cache.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/Skryldev/multiimage/core"
	apperrors "github.com/Skryldev/multiimage/errors"
)

// DefaultDirName is the subdirectory of the user cache dir used when no
// directory is configured.
const DefaultDirName = "multiimage"

// Local stores cached renditions on the local filesystem.
type Local struct {
	rootDir     string
	permissions os.FileMode

	once   sync.Once
	dir    string
	dirErr error
}

// NewLocal creates a Local cache rooted at dir. An empty dir resolves to
// <user cache dir>/multiimage the first time CacheDir is called.
func NewLocal(dir string, perm os.FileMode) *Local {
	if perm == 0 {
		perm = 0o644
	}
	return &Local{rootDir: dir, permissions: perm}
}

// CacheDir returns the cache root, creating it if needed. The result is
// resolved once.
func (l *Local) CacheDir() (string, error) {
	l.once.Do(func() {
		dir := l.rootDir
		if dir == "" {
			base, err := os.UserCacheDir()
			if err != nil {
				l.dirErr = apperrors.New(apperrors.CategoryCache, "local.cache_dir",
					fmt.Errorf("%w: %v", apperrors.ErrCacheDirUnavailable, err))
				return
			}
			dir = filepath.Join(base, DefaultDirName)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			l.dirErr = apperrors.New(apperrors.CategoryCache, "local.cache_dir",
				fmt.Errorf("%w: mkdir %s: %v", apperrors.ErrCacheDirUnavailable, dir, err))
			return
		}
		l.dir = dir
	})
	return l.dir, l.dirErr
}

// Exists reports whether path names an existing regular file.
func (l *Local) Exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// Move replaces dst with src. It renames when possible and falls back to a
// copy through a sibling temp file when src lives on another device.
func (l *Local) Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.move.mkdir", err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		_ = os.Chmod(dst, l.permissions)
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return apperrors.Wrap(apperrors.CategoryCache, "local.move.rename", err)
	}
	if err := l.copyReplace(src, dst); err != nil {
		return err
	}
	_ = os.Remove(src)
	return nil
}

func (l *Local) copyReplace(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.move.open", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".move-*")
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.move.temp", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return apperrors.Wrap(apperrors.CategoryCache, "local.move.copy", err)
	}
	if err := tmp.Chmod(l.permissions); err != nil {
		tmp.Close()
		return apperrors.Wrap(apperrors.CategoryCache, "local.move.chmod", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.move.close", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "local.move.rename", err)
	}
	return nil
}

// Remove deletes one cached file. A missing file is not an error.
func (l *Local) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.CategoryCache, "local.remove", err)
	}
	return nil
}

// Purge deletes every file in the cache directory and returns how many
// were removed.
func (l *Local) Purge() (int, error) {
	dir, err := l.CacheDir()
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryCache, "local.purge", err)
	}
	n := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return n, apperrors.Wrap(apperrors.CategoryCache, "local.purge", err)
		}
		n++
	}
	return n, nil
}

var _ core.FileSystem = (*Local)(nil)
