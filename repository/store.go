package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/utilitywarehouse/github-proxy/auth"
	"github.com/utilitywarehouse/github-proxy/giturl"
	"github.com/utilitywarehouse/github-proxy/internal/lock"
	"github.com/utilitywarehouse/github-proxy/internal/utils"
)

const (
	SourceDir      = "src"
	DestinationDir = "dest"

	// OriginRemote is the remote name of the upstream in the source working copy
	OriginRemote = "origin"

	defaultDirMode os.FileMode = 0755
)

// PopulateFunc fills given directory before it's initialised as a repository
type PopulateFunc func(ctx context.Context, dir string) error

// Store owns the source and destination working copies under a root dir
type Store struct {
	root  string
	creds auth.Provider
	log   *slog.Logger

	lock lock.Mutex
	src  *Handle
	dst  *Handle
}

// NewStore creates root dir if required and returns a store for it
func NewStore(root string, creds auth.Provider, log *slog.Logger) (*Store, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("%w: root path must be absolute: %q", ErrStorage, root)
	}
	if err := os.MkdirAll(root, defaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: unable to create root dir: %w", ErrStorage, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		root:  root,
		creds: creds,
		log:   log,
	}, nil
}

func (s *Store) SourceDir() string {
	return filepath.Join(s.root, SourceDir)
}

func (s *Store) DestinationDir() string {
	return filepath.Join(s.root, DestinationDir)
}

// EnsureSource returns handle of the source working copy cloned from
// remoteURL. An existing clone of the same remote is reused, anything else
// found at the path is removed and cloned again.
func (s *Store) EnsureSource(ctx context.Context, remoteURL string) (*Handle, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	dir := s.SourceDir()

	if s.src != nil {
		if s.originMatches(s.src.repo, remoteURL) {
			return s.src, nil
		}
		s.src.Close()
		s.src = nil
	}

	_, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("%w: unable to check source dir: %w", ErrStorage, err)
	default:
		// empty dir is left behind by an interrupted clone
		if empty, err := utils.DirIsEmpty(dir); err == nil && empty {
			break
		}
		repo, err := git.PlainOpen(dir)
		if err == nil {
			existing := &Handle{dir: dir, repo: repo}
			if s.originMatches(repo, remoteURL) {
				s.log.Debug("using existing source clone", "path", dir)
				s.src = existing
				return s.src, nil
			}
			if cErr := existing.Close(); cErr != nil {
				s.log.Error("unable to close existing source clone", "path", dir, "err", cErr)
			}
			err = fmt.Errorf("origin does not match %s", remoteURL)
		}
		s.log.Info("existing source dir is not a usable clone, recreating", "path", dir, "err", err)
		if err := utils.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("%w: unable to remove source dir: %w", ErrStorage, err)
		}
	}

	repo, err := s.clone(ctx, dir, remoteURL)
	if err != nil {
		return nil, err
	}
	s.src = &Handle{dir: dir, repo: repo}
	return s.src, nil
}

func (s *Store) clone(ctx context.Context, dir, remoteURL string) (*git.Repository, error) {
	authMethod, err := authMethod(ctx, s.creds, remoteURL)
	if err != nil {
		return nil, err
	}

	s.log.Info("cloning source repository", "remote", remoteURL, "path", dir)

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:        remoteURL,
		RemoteName: OriginRemote,
		Auth:       authMethod,
	})
	if err != nil {
		// do not leave partial clone behind
		if rErr := utils.RemoveAll(dir); rErr != nil {
			s.log.Error("unable to remove partial clone", "path", dir, "err", rErr)
		}
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil, fmt.Errorf("%w: %w", ErrClone, err)
		}
		return nil, wrapRemoteErr(ErrClone, remoteURL, err)
	}

	return repo, nil
}

func (s *Store) originMatches(repo *git.Repository, remoteURL string) bool {
	remote, err := repo.Remote(OriginRemote)
	if err != nil {
		return false
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return false
	}
	if urls[0] == remoteURL {
		return true
	}
	same, err := giturl.SameRawURL(urls[0], remoteURL)
	return err == nil && same
}

// RecreateDestination removes destination working copy, calls populate with
// the empty path and then initialises a fresh repository there. Any previously
// returned destination handle is closed.
func (s *Store) RecreateDestination(ctx context.Context, populate PopulateFunc) (*Handle, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.dst.Close(); err != nil {
		s.log.Error("unable to close destination handle", "err", err)
	}
	s.dst = nil

	dir := s.DestinationDir()

	if err := utils.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("%w: unable to remove destination dir: %w", ErrStorage, err)
	}

	if populate != nil {
		if err := populate(ctx, dir); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: unable to create destination dir: %w", ErrStorage, err)
	}

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to init destination repository: %w", ErrStorage, err)
	}

	s.log.Log(ctx, -8, "destination recreated", "path", dir)

	s.dst = &Handle{dir: dir, repo: repo}
	return s.dst, nil
}

// Close releases source and destination handles
func (s *Store) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	err := errors.Join(s.src.Close(), s.dst.Close())
	s.src, s.dst = nil, nil
	return err
}

func authMethod(ctx context.Context, creds auth.Provider, remoteURL string) (transport.AuthMethod, error) {
	if creds == nil {
		return nil, nil
	}
	m, err := creds.Method(ctx, remoteURL)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to get credentials for %s: %w", ErrAuth, remoteURL, err)
	}
	return m, nil
}
