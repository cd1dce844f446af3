// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "services.db")
	dst := filepath.Join(dir, "services.db.bak")
	if err := os.WriteFile(src, []byte("snapshot"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(src, dst); err != nil {
		t.Fatal(err)
	}
	contents, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(string(contents), "snapshot", t)
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(info.Mode().Perm(), os.FileMode(0600), t)

	// an existing backup is never overwritten
	assertEqual(CopyFile(src, dst), ErrBackupExists, t)

	if err := CopyFile(filepath.Join(dir, "missing.db"), filepath.Join(dir, "other.bak")); err == nil {
		t.Errorf("copied a nonexistent file")
	}
}
