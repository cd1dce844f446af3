// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package irc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ergochat/ergo-services/irc/datastore"
	"github.com/ergochat/ergo-services/irc/flock"
	"github.com/ergochat/ergo-services/irc/logger"
	"github.com/ergochat/ergo-services/irc/registry"
)

const (
	dumpVersion = 1
)

// databaseDump is the portable JSON form of a datastore, used to move a
// registry between backends.
type databaseDump struct {
	Version int
	Source  string
	Rows    []datastore.Row
}

func withLockedStore(config *Config, logger *logger.Manager, f func(datastore.Store) error) (err error) {
	flocker, err := flock.TryAcquireFlock(flock.LockPath(config.Datastore.Path))
	if err != nil {
		return err
	}
	defer flocker.Unlock()

	store, err := OpenStore(config, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return f(store)
}

// ImportDB replaces the contents of the datastore with a dump written by
// ExportDB. Every row is checked by loading it into a scratch registry
// first; rows the registry would skip are dropped from the import.
func ImportDB(config *Config, logger *logger.Manager, infile string) (err error) {
	data, err := os.ReadFile(infile)
	if err != nil {
		return
	}
	var dump databaseDump
	if err = json.Unmarshal(data, &dump); err != nil {
		return fmt.Errorf("Could not parse %s: %w", infile, err)
	}
	if dump.Version != dumpVersion {
		return fmt.Errorf("unsupported version of the db for import: version %d is required", dumpVersion)
	}

	reg := registry.NewRegistry(config.registry, logger)
	stats, err := reg.LoadSnapshot(dump.Rows)
	if err != nil {
		return
	}
	if stats.Skipped != 0 {
		log.Printf("skipped %d of %d rows from %s", stats.Skipped, stats.Rows, dump.Source)
	}
	var snapshot datastore.Snapshot
	if err = reg.WriteSnapshot(&snapshot); err != nil {
		return
	}

	return withLockedStore(config, logger, func(store datastore.Store) error {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		return store.SaveSnapshot(ctx, snapshot.Rows)
	})
}

// ExportDB writes the contents of the datastore to outfile as JSON.
func ExportDB(config *Config, logger *logger.Manager, outfile string) (err error) {
	var dump databaseDump
	err = withLockedStore(config, logger, func(store datastore.Store) (err error) {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		dump.Rows, err = store.LoadSnapshot(ctx)
		return
	})
	if err != nil {
		return
	}
	dump.Version = dumpVersion
	dump.Source = Ver

	data, err := json.MarshalIndent(&dump, "", "\t")
	if err != nil {
		return
	}
	return os.WriteFile(outfile, data, 0600)
}
