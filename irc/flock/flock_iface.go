// Package flock guards a datastore against use by two processes at once,
// e.g. a running ergo-services and an `importdb`.
package flock

// Flocker is a held lock. *flock.Flock satisfies it, though not
// sync.Locker, since its Unlock returns an error.
type Flocker interface {
	Unlock() error
}

// LockPath is where the lock for a datastore lives.
func LockPath(datastorePath string) string {
	return datastorePath + ".lock"
}

// used where advisory locks are unavailable
type noopFlocker struct{}

func (n *noopFlocker) Unlock() error {
	return nil
}
