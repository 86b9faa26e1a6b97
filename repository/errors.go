package repository

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

var (
	ErrStorage       = errors.New("repository storage error")
	ErrClone         = errors.New("unable to clone repository")
	ErrSync          = errors.New("unable to sync branch")
	ErrPush          = errors.New("unable to push branch")
	ErrAuth          = errors.New("remote rejected credentials")
	ErrBranchMissing = errors.New("branch does not exist")
)

func isAuthErr(err error) bool {
	return errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed)
}

// wrapRemoteErr wraps err from a remote operation with ErrAuth if the remote
// rejected credentials or with the given sentinel otherwise
func wrapRemoteErr(sentinel error, msg string, err error) error {
	if isAuthErr(err) {
		return fmt.Errorf("%w: %s: %w", ErrAuth, msg, err)
	}
	return fmt.Errorf("%w: %s: %w", sentinel, msg, err)
}
