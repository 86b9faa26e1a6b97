// Package proxy runs mirror cycles which keep destination repository branches
// in line with the source repository.
//
// A cycle syncs every configured source branch, projects the source working
// tree into a freshly created destination, imports branch history, rewrites
// it (or flattens it to snapshots) and pushes every branch to the
// destination remote.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/utilitywarehouse/github-proxy/auth"
	"github.com/utilitywarehouse/github-proxy/github"
	"github.com/utilitywarehouse/github-proxy/internal/lock"
	"github.com/utilitywarehouse/github-proxy/mirror"
	"github.com/utilitywarehouse/github-proxy/repository"
	"github.com/utilitywarehouse/github-proxy/rewrite"
)

// State of the proxy loop
type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// HostClient resolves users and repositories on the git host
type HostClient interface {
	CurrentUser(ctx context.Context) (*github.User, error)
	Repository(ctx context.Context, owner, name string) (*github.Repository, error)
}

// Deps are external dependencies of the proxy
type Deps struct {
	Host        HostClient
	Credentials auth.Provider
	Log         *slog.Logger
}

type Proxy struct {
	cfg       Config
	host      HostClient
	creds     auth.Provider
	log       *slog.Logger
	store     *repository.Store
	publisher *repository.Publisher

	// set by Start
	src    *repository.Handle
	srcURL string
	dstURL string

	// only one cycle at a time
	cycleLock lock.Mutex
	state     atomic.Int32
	trigger   chan struct{}
}

// New validates config and returns a proxy which is ready to Start
func New(cfg Config, deps Deps) (*Proxy, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Host == nil {
		return nil, fmt.Errorf("host client is required")
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	store, err := repository.NewStore(cfg.Root, deps.Credentials, log.With("logger", "store"))
	if err != nil {
		return nil, err
	}

	return &Proxy{
		cfg:       cfg,
		host:      deps.Host,
		creds:     deps.Credentials,
		log:       log,
		store:     store,
		publisher: repository.NewPublisher(deps.Credentials, log.With("logger", "publisher")),
		trigger:   make(chan struct{}, 1),
	}, nil
}

// usernameSetter is implemented by credential providers which authenticate
// as the user behind the host API token
type usernameSetter interface {
	SetUsername(username string)
}

// Start resolves current user and both repositories on the host and makes
// sure source clone exists. Proxy cannot run cycles if Start fails.
func (p *Proxy) Start(ctx context.Context) error {
	p.cycleLock.Lock()
	defer p.cycleLock.Unlock()

	user, err := p.host.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("unable to get current user: %w", err)
	}
	p.log.Info("authenticated", "user", user.Login)
	if u, ok := p.creds.(usernameSetter); ok {
		u.SetUsername(user.Login)
	}

	srcRepo, err := p.host.Repository(ctx, p.cfg.Source.Owner, p.cfg.Source.Name)
	if err != nil {
		return fmt.Errorf("unable to get source repository %s/%s: %w", p.cfg.Source.Owner, p.cfg.Source.Name, err)
	}
	dstRepo, err := p.host.Repository(ctx, p.cfg.Destination.Owner, p.cfg.Destination.Name)
	if err != nil {
		return fmt.Errorf("unable to get destination repository %s/%s: %w", p.cfg.Destination.Owner, p.cfg.Destination.Name, err)
	}
	p.srcURL = srcRepo.CloneURL
	p.dstURL = dstRepo.CloneURL

	src, err := p.store.EnsureSource(ctx, p.srcURL)
	if err != nil {
		return err
	}
	p.src = src

	p.log.Info("proxy started", "source", srcRepo.FullName, "destination", dstRepo.FullName, "branches", p.cfg.Source.Branches)
	return nil
}

// RunCycle runs a single cycle. It blocks while another cycle is running.
// publishing starts only after all previous steps succeeded, every branch is
// attempted and failures are joined.
func (p *Proxy) RunCycle(ctx context.Context) error {
	p.cycleLock.Lock()
	defer p.cycleLock.Unlock()

	if p.src == nil {
		return fmt.Errorf("proxy is not started")
	}

	p.state.Store(int32(Running))
	defer p.state.Store(int32(Idle))

	start := time.Now()
	err := p.runCycle(ctx)
	recordCycle(start, err)

	return err
}

func (p *Proxy) runCycle(ctx context.Context) error {
	branches := p.cfg.Source.Branches

	synchronizer := repository.NewSynchronizer(p.src, p.creds, p.log.With("logger", "sync"))
	if err := synchronizer.Sync(ctx, branches); err != nil {
		return &StepError{Step: StepSync, Err: err}
	}

	dst, err := p.store.RecreateDestination(ctx, func(ctx context.Context, dir string) error {
		return mirror.Directory(ctx, p.src.Dir(), dir, mirror.Options{Workers: p.cfg.CopyWorkers})
	})
	if err != nil {
		if errors.Is(err, mirror.ErrCopy) {
			return &StepError{Step: StepMirror, Err: err}
		}
		return &StepError{Step: StepRecreate, Err: err}
	}

	if err := repository.ImportBranches(ctx, p.src, dst, branches); err != nil {
		return &StepError{Step: StepImport, Err: err}
	}

	if p.cfg.Destination.Anonymize {
		m, err := rewrite.Rewrite(ctx, dst.Repository(), p.cfg.Identity)
		if err != nil {
			return &StepError{Step: StepRewrite, Err: err}
		}
		p.log.Debug("history rewritten", "commits", len(m))
	} else {
		if _, err := rewrite.Snapshot(ctx, dst.Repository(), p.cfg.Identity); err != nil {
			return &StepError{Step: StepSnapshot, Err: err}
		}
	}

	if err := repository.AddRemote(dst, p.dstURL); err != nil {
		return &StepError{Step: StepRemote, Err: err}
	}

	var errs []error
	for _, branch := range branches {
		if err := p.publisher.Publish(ctx, dst, branch, p.cfg.Destination.ForcePush); err != nil {
			p.log.Error("unable to publish branch", "branch", branch, "err", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &StepError{Step: StepPublish, Err: errors.Join(errs...)}
	}

	return nil
}

// Loop runs a cycle straight away and then again every interval or when
// triggered. Cycle errors are logged and never stop the loop. Cancelled ctx
// stops the loop after the running cycle completes, cycles are bounded by
// CycleTimeout instead.
func (p *Proxy) Loop(ctx context.Context) {
	var cycles int
	for {
		cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CycleTimeout)
		start := time.Now()
		err := p.RunCycle(cycleCtx)
		cancel()

		if err != nil {
			p.log.Error("cycle failed", "err", err)
		} else {
			p.log.Info("cycle completed", "duration", time.Since(start))
		}

		cycles++
		if p.cfg.MaxCycles > 0 && cycles >= p.cfg.MaxCycles {
			return
		}

		t := time.NewTimer(p.cfg.Interval)
		select {
		case <-t.C:
		case <-p.trigger:
			t.Stop()
			p.log.Debug("cycle triggered")
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

// Trigger requests next cycle to start without waiting for the interval.
// it never blocks, multiple requests before next cycle are merged.
func (p *Proxy) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// State returns current state of the loop
func (p *Proxy) State() State {
	return State(p.state.Load())
}

// Close releases working copies
func (p *Proxy) Close() error {
	return p.store.Close()
}
