//go:build !deadlock_test

// Package lock provides the mutex types used across the proxy. Builds tagged
// with deadlock_test swap them for github.com/sasha-s/go-deadlock so lock
// ordering issues surface in tests.
package lock

import "sync"

type Mutex = sync.Mutex

type RWMutex = sync.RWMutex
