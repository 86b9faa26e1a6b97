package proxy

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/utilitywarehouse/github-proxy/rewrite"
)

// Config of the proxy, it is not modified after New
type Config struct {
	// Root is the absolute path of the dir holding source and destination
	// working copies
	Root string

	// Interval is how long to wait between cycles
	Interval time.Duration

	// CycleTimeout bounds all remote operations of a single cycle
	CycleTimeout time.Duration

	// Identity is used as author and committer of rewritten commits
	Identity rewrite.Identity

	Source      Source
	Destination Destination

	// CopyWorkers is number of concurrent subtree copies while mirroring
	// working tree. 0 means number of CPUs.
	CopyWorkers int

	// MaxCycles stops Loop after given number of cycles. 0 means run until
	// context is cancelled.
	MaxCycles int
}

type Source struct {
	Owner    string
	Name     string
	Branches []string
}

type Destination struct {
	Owner string
	Name  string
	// Anonymize rewrites whole history with Identity, otherwise every branch
	// is published as a single snapshot commit
	Anonymize bool
	// ForcePush overwrites destination branches regardless of their history
	ForcePush bool
}

func (c *Config) validate() error {
	var errs []error

	if !filepath.IsAbs(c.Root) {
		errs = append(errs, fmt.Errorf("root must be an absolute path: %q", c.Root))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive"))
	}
	if c.CycleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("cycle timeout must be positive"))
	}
	if c.Identity.Name == "" || c.Identity.Email == "" {
		errs = append(errs, fmt.Errorf("identity name and email are required"))
	}
	if c.Source.Owner == "" || c.Source.Name == "" {
		errs = append(errs, fmt.Errorf("source owner and name are required"))
	}
	if c.Destination.Owner == "" || c.Destination.Name == "" {
		errs = append(errs, fmt.Errorf("destination owner and name are required"))
	}
	if len(c.Source.Branches) == 0 {
		errs = append(errs, fmt.Errorf("at least one source branch is required"))
	}
	for i, b := range c.Source.Branches {
		if b == "" {
			errs = append(errs, fmt.Errorf("source branch name cannot be empty"))
			continue
		}
		if slices.Contains(c.Source.Branches[:i], b) {
			errs = append(errs, fmt.Errorf("duplicate source branch %q", b))
		}
	}
	if c.CopyWorkers < 0 {
		errs = append(errs, fmt.Errorf("copy workers cannot be negative"))
	}

	return errors.Join(errs...)
}
