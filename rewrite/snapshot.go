package rewrite

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Snapshot replaces every local branch with a single parentless commit
// holding the tree of its tip. Commits are authored by id at the tip's
// commit time so unchanged branches always get the same hash.
func Snapshot(ctx context.Context, repo *git.Repository, id Identity) (Map, error) {
	branches, err := branchRefs(repo)
	if err != nil {
		return nil, err
	}

	m := make(Map, len(branches))
	for _, ref := range branches {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRewrite, err)
		}

		tip, err := object.GetCommit(repo.Storer, ref.Hash())
		if err != nil {
			return nil, fmt.Errorf("%w: unable to read commit %s: %w", ErrRewrite, ref.Hash(), err)
		}

		sig := id.signature(tip)
		newHash, err := store(repo, &object.Commit{
			Author:    sig,
			Committer: sig,
			Message:   SnapshotMessage(ref.Name()),
			TreeHash:  tip.TreeHash,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrRewrite, ref.Name(), err)
		}
		m[ref.Hash()] = newHash

		if err := repo.Storer.SetReference(plumbing.NewHashReference(ref.Name(), newHash)); err != nil {
			return nil, fmt.Errorf("%w: unable to update %s: %w", ErrRewrite, ref.Name(), err)
		}
	}

	return m, nil
}

// SnapshotMessage returns commit message of snapshot commit for the branch
func SnapshotMessage(branch plumbing.ReferenceName) string {
	return fmt.Sprintf("Snapshot of %s\n", branch.Short())
}
