package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const defaultDirMode fs.FileMode = os.FileMode(0755) // 'rwxr-xr-x'

// RemoveAll removes path and any children it contains. Unlike os.RemoveAll it
// first makes every entry owner-writable, git writes its object files read-only
// and some platforms refuse to unlink those.
func RemoveAll(path string) error {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return nil
	}

	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// entry vanished or is unreadable, os.RemoveAll will report it
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		mode := info.Mode().Perm()
		if d.IsDir() {
			mode |= 0700
		} else {
			mode |= 0200
		}
		if mode != info.Mode().Perm() {
			if err := os.Chmod(p, mode); err != nil {
				return fmt.Errorf("unable to clear read-only bit on %s: %w", p, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return os.RemoveAll(path)
}

// ReCreate removes dir and any children it contains and creates new dir
// on the same path
func ReCreate(path string) error {
	if err := RemoveAll(path); err != nil {
		return fmt.Errorf("can't delete unusable dir: %w", err)
	}
	if err := os.MkdirAll(path, defaultDirMode); err != nil {
		return fmt.Errorf("unable to create repo dir err:%w", err)
	}
	return nil
}

// DirIsEmpty returns true if path is an existing directory without entries
func DirIsEmpty(path string) (bool, error) {
	dirents, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(dirents) == 0, nil
}
