package proxy

import (
	"github.com/utilitywarehouse/github-proxy/mirror"
	"github.com/utilitywarehouse/github-proxy/repository"
	"github.com/utilitywarehouse/github-proxy/rewrite"
)

// errors a cycle can fail with, test with errors.Is
var (
	ErrStorage = repository.ErrStorage
	ErrClone   = repository.ErrClone
	ErrSync    = repository.ErrSync
	ErrCopy    = mirror.ErrCopy
	ErrRewrite = rewrite.ErrRewrite
	ErrPush    = repository.ErrPush
	ErrAuth    = repository.ErrAuth
)

// cycle steps
const (
	StepSync     = "sync"
	StepRecreate = "recreate"
	StepMirror   = "mirror"
	StepImport   = "import"
	StepRewrite  = "rewrite"
	StepSnapshot = "snapshot"
	StepRemote   = "remote"
	StepPublish  = "publish"
)

// StepError is returned by a failed cycle
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}
