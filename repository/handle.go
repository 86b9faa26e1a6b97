package repository

import (
	"io"

	"github.com/go-git/go-git/v5"
)

// Handle is an opened working copy
type Handle struct {
	dir  string
	repo *git.Repository
}

// Dir returns path of the working copy
func (h *Handle) Dir() string {
	return h.dir
}

// Repository returns underlying go-git repository
func (h *Handle) Repository() *git.Repository {
	return h.repo
}

// Close releases file handles held by the repository storage. handle must
// not be used after close.
func (h *Handle) Close() error {
	if h == nil || h.repo == nil {
		return nil
	}
	var err error
	if c, ok := h.repo.Storer.(io.Closer); ok {
		err = c.Close()
	}
	h.repo = nil
	return err
}
