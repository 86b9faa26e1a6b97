//go:build deadlock_test

package lock

import (
	"time"

	"github.com/sasha-s/go-deadlock"
)

func init() {
	// cycles hold the lock for the whole mirror run which can be long
	deadlock.Opts.DeadlockTimeout = 10 * time.Minute
}

type Mutex = deadlock.Mutex

type RWMutex = deadlock.RWMutex
