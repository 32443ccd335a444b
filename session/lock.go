// SPDX-License-Identifier: MPL-2.0

package session

import (
	"hash/fnv"
	"sync"
)

// DefaultLockStripes is the default number of mutexes in a Locker.
const DefaultLockStripes = 256

// Locker serializes read-modify-write cycles of a session within this
// process. Session ids are hashed onto a fixed set of mutexes, so unrelated
// sessions rarely contend.
type Locker struct {
	stripes []sync.Mutex
}

// NewLocker creates a new Locker.
//
// Supported options: WithLockStripes
func NewLocker(opt ...Option) *Locker {
	opts := getOpts(opt...)
	return &Locker{stripes: make([]sync.Mutex, opts.withLockStripes)}
}

// Lock locks the session id's stripe and returns the func which unlocks it.
func (l *Locker) Lock(id string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
