// Copyright (c) 2022 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package datastore

import (
	"context"
	"errors"
)

// SchemaVersion is the current layout of the stored snapshot. Backends
// record it next to the rows and refuse to load a different version
// without an upgrade.
const SchemaVersion = 1

var (
	ErrSchemaMismatch = errors.New("stored schema version does not match; run upgradedb")
	ErrNotInitialized = errors.New("datastore has not been initialized; run initdb")
)

// A Store persists the registry as an ordered snapshot of rows. Saving
// replaces the previous snapshot atomically: a reader never observes a
// partially written snapshot.
type Store interface {
	SaveSnapshot(ctx context.Context, rows []Row) error

	LoadSnapshot(ctx context.Context) ([]Row, error)

	// SchemaVersion returns the version recorded in the store.
	SchemaVersion(ctx context.Context) (int, error)

	Close() error
}

// Snapshot collects rows in memory; it implements RowWriter.
type Snapshot struct {
	Rows []Row
}

func (s *Snapshot) WriteRow(tag string, fields ...Field) error {
	row, err := NewRow(tag, fields...)
	if err != nil {
		return err
	}
	s.Rows = append(s.Rows, row)
	return nil
}
