package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/utilitywarehouse/github-proxy/auth"
)

// ProxyRemote is the remote name of the destination repository
const ProxyRemote = "proxy"

// AddRemote (re)creates 'proxy' remote pointing at remoteURL
func AddRemote(dst *Handle, remoteURL string) error {
	if err := dst.repo.DeleteRemote(ProxyRemote); err != nil && !errors.Is(err, git.ErrRemoteNotFound) {
		return fmt.Errorf("%w: unable to remove remote: %w", ErrStorage, err)
	}
	_, err := dst.repo.CreateRemote(&config.RemoteConfig{
		Name: ProxyRemote,
		URLs: []string{remoteURL},
	})
	if err != nil {
		return fmt.Errorf("%w: unable to create remote: %w", ErrStorage, err)
	}
	return nil
}

// Publisher pushes destination branches to the 'proxy' remote
type Publisher struct {
	creds auth.Provider
	log   *slog.Logger
}

func NewPublisher(creds auth.Provider, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{creds: creds, log: log}
}

// Publish pushes refs/heads/<branch> of dst to the same ref on the proxy
// remote. If force is set the remote ref is overwritten regardless of its
// history. Remote already being at the same commit is not an error.
func (p *Publisher) Publish(ctx context.Context, dst *Handle, branch string, force bool) error {
	remote, err := dst.repo.Remote(ProxyRemote)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPush, branch, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return fmt.Errorf("%w: %s: proxy remote has no url", ErrPush, branch)
	}

	authMethod, err := authMethod(ctx, p.creds, urls[0])
	if err != nil {
		return err
	}

	refSpec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	if force {
		refSpec = "+" + refSpec
	}
	if err := refSpec.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPush, branch, err)
	}

	err = dst.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: ProxyRemote,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       authMethod,
		Force:      force,
	})
	switch {
	case err == nil:
		p.log.Info("branch published", "branch", branch, "force", force)
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		p.log.Debug("remote branch already up to date", "branch", branch)
	default:
		return wrapRemoteErr(ErrPush, branch, err)
	}
	return nil
}
