package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/revlist"
)

// ImportBranches copies every object reachable from the given source branches
// into dst and creates the same branches there. HEAD of dst points to the
// branch checked out in src, or to the first branch if src HEAD is not one of
// them.
func ImportBranches(ctx context.Context, src, dst *Handle, branches []string) error {
	if len(branches) == 0 {
		return fmt.Errorf("%w: no branches to import", ErrStorage)
	}

	tips := make([]plumbing.Hash, 0, len(branches))
	for _, branch := range branches {
		ref, err := src.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
		if err != nil {
			if errors.Is(err, plumbing.ErrReferenceNotFound) {
				return fmt.Errorf("%w: %s: %w", ErrStorage, branch, ErrBranchMissing)
			}
			return fmt.Errorf("%w: %s: %w", ErrStorage, branch, err)
		}
		tips = append(tips, ref.Hash())
	}

	// objects dst already has are not walked again
	var have []plumbing.Hash
	for _, tip := range tips {
		if dst.repo.Storer.HasEncodedObject(tip) == nil {
			have = append(have, tip)
		}
	}

	hashes, err := revlist.Objects(src.repo.Storer, tips, have)
	if err != nil {
		return fmt.Errorf("%w: unable to list objects: %w", ErrStorage, err)
	}

	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj, err := src.repo.Storer.EncodedObject(plumbing.AnyObject, h)
		if err != nil {
			return fmt.Errorf("%w: unable to read object %s: %w", ErrStorage, h, err)
		}
		if _, err := dst.repo.Storer.SetEncodedObject(obj); err != nil {
			return fmt.Errorf("%w: unable to write object %s: %w", ErrStorage, h, err)
		}
	}

	for i, branch := range branches {
		ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), tips[i])
		if err := dst.repo.Storer.SetReference(ref); err != nil {
			return fmt.Errorf("%w: unable to set %s: %w", ErrStorage, branch, err)
		}
	}

	headTarget := plumbing.NewBranchReferenceName(branches[0])
	if srcHead, err := src.repo.Head(); err == nil {
		for _, branch := range branches {
			if srcHead.Name() == plumbing.NewBranchReferenceName(branch) {
				headTarget = srcHead.Name()
				break
			}
		}
	}
	if err := dst.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, headTarget)); err != nil {
		return fmt.Errorf("%w: unable to set HEAD: %w", ErrStorage, err)
	}

	return nil
}
