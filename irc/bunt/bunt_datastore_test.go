// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package bunt

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"

	"github.com/tidwall/buntdb"

	"github.com/ergochat/ergo-services/irc/datastore"
	"github.com/ergochat/ergo-services/irc/logger"
	"github.com/ergochat/ergo-services/irc/utils"
)

func assertEqual(supplied, expected interface{}, t *testing.T) {
	t.Helper()
	if !reflect.DeepEqual(supplied, expected) {
		t.Errorf("expected %#v but got %#v", expected, supplied)
	}
}

func testRows(t *testing.T, n int) []datastore.Row {
	var snapshot datastore.Snapshot
	for i := 0; i < n; i++ {
		err := snapshot.WriteRow("MU", datastore.Word("acct"+strconv.Itoa(i)), datastore.String("a b c"), datastore.Int(int64(i)))
		if err != nil {
			t.Fatal(err)
		}
	}
	return snapshot.Rows
}

// rows come back from storage with every field as a string
func fieldValues(rows []datastore.Row) (result [][]string) {
	for _, row := range rows {
		values := []string{row.Tag}
		for _, field := range row.Fields {
			values = append(values, field.Value)
		}
		result = append(result, values)
	}
	return
}

func memoryStore(t *testing.T) *Store {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	store := NewStore(db, logger.NewWriterManager(io.Discard, logger.LogDebug))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memoryStore(t)

	// more than ten rows, so lexical key order is exercised
	rows := testRows(t, 12)
	if err := store.SaveSnapshot(ctx, rows); err != nil {
		t.Fatal(err)
	}
	loaded, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(fieldValues(loaded), fieldValues(rows), t)

	version, err := store.SchemaVersion(ctx)
	assertEqual(err, nil, t)
	assertEqual(version, datastore.SchemaVersion, t)
}

func TestSnapshotReplaces(t *testing.T) {
	ctx := context.Background()
	store := memoryStore(t)

	if err := store.SaveSnapshot(ctx, testRows(t, 5)); err != nil {
		t.Fatal(err)
	}
	shorter := testRows(t, 2)
	if err := store.SaveSnapshot(ctx, shorter); err != nil {
		t.Fatal(err)
	}
	loaded, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(len(loaded), 2, t)
	assertEqual(fieldValues(loaded), fieldValues(shorter), t)
}

func TestLoadUninitialized(t *testing.T) {
	store := memoryStore(t)
	_, err := store.LoadSnapshot(context.Background())
	assertEqual(errors.Is(err, datastore.ErrNotInitialized), true, t)
}

func TestLoadWrongVersion(t *testing.T) {
	store := memoryStore(t)
	store.db.Update(func(tx *buntdb.Tx) error {
		tx.Set(keySchemaVersion, "99", nil)
		return nil
	})
	_, err := store.LoadSnapshot(context.Background())
	assertEqual(errors.Is(err, datastore.ErrSchemaMismatch), true, t)
}

func TestCanceledContext(t *testing.T) {
	store := memoryStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assertEqual(store.SaveSnapshot(ctx, testRows(t, 1)), context.Canceled, t)
}

func TestInitAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.db")
	log := logger.NewWriterManager(io.Discard, logger.LogDebug)

	if _, err := OpenDatabase(path, false, log); err == nil {
		t.Error("opened a datastore that was never initialized")
	}
	if err := InitDB(path); err != nil {
		t.Fatal(err)
	}
	if err := InitDB(path); !errors.Is(err, ErrDatastoreExists) {
		t.Errorf("second initdb should fail, got %v", err)
	}

	store, err := OpenDatabase(path, false, log)
	if err != nil {
		t.Fatal(err)
	}
	// a fresh datastore holds an empty snapshot
	rows, err := store.LoadSnapshot(context.Background())
	assertEqual(err, nil, t)
	assertEqual(len(rows), 0, t)
	store.Close()
}

func setVersion(t *testing.T, path string, version string) {
	db, err := buntdb.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	db.Update(func(tx *buntdb.Tx) error {
		tx.Set(keySchemaVersion, version, nil)
		return nil
	})
	db.Close()
}

func TestSchemaUpgrade(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.db")
	log := logger.NewWriterManager(io.Discard, logger.LogDebug)
	if err := InitDB(path); err != nil {
		t.Fatal(err)
	}

	setVersion(t, path, "0")
	_, err := OpenDatabase(path, false, log)
	var schemaErr *utils.IncompatibleSchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected a schema error, got %v", err)
	}
	assertEqual(*schemaErr, utils.IncompatibleSchemaError{CurrentVersion: 0, RequiredVersion: datastore.SchemaVersion}, t)

	store, err := OpenDatabase(path, true, log)
	if err != nil {
		t.Fatal(err)
	}
	version, _ := store.SchemaVersion(context.Background())
	assertEqual(version, datastore.SchemaVersion, t)
	store.Close()

	backups, _ := filepath.Glob(path + ".v0.*.bak")
	assertEqual(len(backups), 1, t)

	// a datastore from a newer release is never downgraded
	setVersion(t, path, "99")
	assertEqual(errors.As(UpgradeDB(path), &schemaErr), true, t)
	_, err = OpenDatabase(path, true, log)
	assertEqual(errors.As(err, &schemaErr), true, t)
}
