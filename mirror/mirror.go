// Package mirror projects content of a working copy onto another directory.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/otiai10/copy"
	"github.com/utilitywarehouse/github-proxy/internal/utils"
)

// gitDir is metadata dir of the source which is never copied
const gitDir = ".git"

var ErrCopy = errors.New("unable to mirror directory")

type Options struct {
	// Workers is the number of concurrent subtree copies. defaults to
	// number of CPUs.
	Workers int
}

// Directory replaces dst with a copy of src excluding the top level .git
// metadata dir. Symlinks are recreated as links. On failure partially copied
// dst is removed. src is only read.
func Directory(ctx context.Context, src, dst string, opts Options) error {
	src = filepath.Clean(src)
	dst = filepath.Clean(dst)

	if src == dst {
		return fmt.Errorf("%w: source and destination are the same path", ErrCopy)
	}
	if rel, err := filepath.Rel(src, dst); err == nil && filepath.IsLocal(rel) {
		return fmt.Errorf("%w: destination %q is inside source", ErrCopy, dst)
	}

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %q is not a directory", ErrCopy, src)
	}

	if err := utils.ReCreate(dst); err != nil {
		return fmt.Errorf("%w: unable to recreate destination: %w", ErrCopy, err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	srcGitDir := filepath.Join(src, gitDir)

	err = copy.Copy(src, dst, copy.Options{
		Skip: func(_ os.FileInfo, path, _ string) (bool, error) {
			if err := ctx.Err(); err != nil {
				return true, err
			}
			return path == srcGitDir, nil
		},
		OnSymlink: func(string) copy.SymlinkAction {
			return copy.Shallow
		},
		NumOfWorkers: int64(workers),
	})
	if err != nil {
		if rErr := utils.RemoveAll(dst); rErr != nil {
			err = errors.Join(err, rErr)
		}
		return fmt.Errorf("%w: %w", ErrCopy, err)
	}

	return nil
}
