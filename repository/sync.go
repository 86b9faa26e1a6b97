package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/utilitywarehouse/github-proxy/auth"
)

// Synchronizer keeps local branches of the source working copy at the
// upstream tips
type Synchronizer struct {
	src   *Handle
	creds auth.Provider
	log   *slog.Logger
}

func NewSynchronizer(src *Handle, creds auth.Provider, log *slog.Logger) *Synchronizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synchronizer{src: src, creds: creds, log: log}
}

// Sync fetches origin and then brings every given branch in line with its
// upstream, one after the other. The last branch stays checked out.
func (s *Synchronizer) Sync(ctx context.Context, branches []string) error {
	remoteURL, err := s.originURL()
	if err != nil {
		return err
	}

	authMethod, err := authMethod(ctx, s.creds, remoteURL)
	if err != nil {
		return err
	}

	err = s.src.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: OriginRemote,
		Auth:       authMethod,
		Prune:      true,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return wrapRemoteErr(ErrSync, "fetch", err)
	}

	for _, branch := range branches {
		if err := s.SyncBranch(ctx, branch); err != nil {
			return err
		}
	}
	return nil
}

// SyncBranch creates local tracking branch if missing, checks it out and
// resets it to the fetched upstream tip. Sync must have fetched origin
// before. Local clone never has its own commits so the reset covers fast
// forwards, rewinds and rewritten history alike.
func (s *Synchronizer) SyncBranch(ctx context.Context, branch string) error {
	repo := s.src.repo
	log := s.log.With("branch", branch)

	localRef := plumbing.NewBranchReferenceName(branch)
	remoteRef := plumbing.NewRemoteReferenceName(OriginRemote, branch)

	upstream, err := repo.Reference(remoteRef, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrSync, branch, ErrBranchMissing)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: unable to read upstream ref: %w", ErrSync, branch, err)
	}

	local, err := repo.Reference(localRef, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		log.Debug("creating local tracking branch", "tip", upstream.Hash())
		local = plumbing.NewHashReference(localRef, upstream.Hash())
		if err := repo.Storer.SetReference(local); err != nil {
			return fmt.Errorf("%w: %s: unable to create branch: %w", ErrSync, branch, err)
		}
		err := repo.CreateBranch(&config.Branch{
			Name:   branch,
			Remote: OriginRemote,
			Merge:  localRef,
		})
		if err != nil && !errors.Is(err, git.ErrBranchExists) {
			return fmt.Errorf("%w: %s: unable to set tracking config: %w", ErrSync, branch, err)
		}
	} else if err != nil {
		return fmt.Errorf("%w: %s: unable to read local ref: %w", ErrSync, branch, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSync, branch, err)
	}

	if err := wt.Checkout(&git.CheckoutOptions{Branch: localRef, Force: true}); err != nil {
		return fmt.Errorf("%w: %s: unable to checkout: %w", ErrSync, branch, err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSync, branch, err)
	}

	if local.Hash() == upstream.Hash() {
		log.Log(ctx, -8, "branch already up to date")
		return nil
	}

	if err := wt.Reset(&git.ResetOptions{Commit: upstream.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("%w: %s: unable to reset to upstream: %w", ErrSync, branch, err)
	}
	log.Info("branch updated", "from", local.Hash(), "to", upstream.Hash())

	return nil
}

// Current returns name of the checked out branch
func (s *Synchronizer) Current() (string, error) {
	head, err := s.src.repo.Head()
	if err != nil {
		return "", fmt.Errorf("%w: unable to read HEAD: %w", ErrStorage, err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("%w: HEAD is detached", ErrStorage)
	}
	return head.Name().Short(), nil
}

func (s *Synchronizer) originURL() (string, error) {
	remote, err := s.src.repo.Remote(OriginRemote)
	if err != nil {
		return "", fmt.Errorf("%w: unable to read origin remote: %w", ErrStorage, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("%w: origin remote has no url", ErrStorage)
	}
	return urls[0], nil
}
