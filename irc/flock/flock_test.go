//go:build !(plan9 || solaris)

package flock

import (
	"path/filepath"
	"testing"
)

func TestExclusive(t *testing.T) {
	path := LockPath(filepath.Join(t.TempDir(), "services.db"))

	first, err := TryAcquireFlock(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := TryAcquireFlock(path); err != CouldntAcquire {
		t.Errorf("second lock should fail with CouldntAcquire, got %v", err)
	}
	if err := first.Unlock(); err != nil {
		t.Fatal(err)
	}
	second, err := TryAcquireFlock(path)
	if err != nil {
		t.Fatalf("lock should be free after unlock: %v", err)
	}
	second.Unlock()
}
