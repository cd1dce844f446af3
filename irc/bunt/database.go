// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2016 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package bunt

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/ergochat/ergo-services/irc/datastore"
	"github.com/ergochat/ergo-services/irc/logger"
	"github.com/ergochat/ergo-services/irc/utils"
)

var (
	ErrDatastoreExists = errors.New("Datastore already exists (delete it manually to continue)")
)

// InitDB creates the database, implementing the `ergo-services initdb` command.
func InitDB(path string) (err error) {
	_, err = os.Stat(path)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrDatastoreExists, path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("Datastore path is inaccessible: %w", err)
	}

	store, err := buntdb.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(keySchemaVersion, strconv.Itoa(datastore.SchemaVersion), nil)
		return err
	})
}

// OpenDatabase returns an existing database, performing a schema version check.
func OpenDatabase(path string, autoUpgrade bool, logger *logger.Manager) (*Store, error) {
	return openDatabaseInternal(path, autoUpgrade, logger)
}

// open the database, giving it at most one chance to auto-upgrade the schema
func openDatabaseInternal(path string, allowAutoupgrade bool, logger *logger.Manager) (store *Store, err error) {
	// buntdb would silently create a missing file
	if path != ":memory:" {
		if _, err = os.Stat(path); err != nil {
			return
		}
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return
	}

	defer func() {
		if err != nil && db != nil {
			db.Close()
		}
	}()

	var version int
	err = db.View(func(tx *buntdb.Tx) error {
		version, err = readVersion(tx)
		return err
	})
	if err != nil {
		return
	}

	if version == datastore.SchemaVersion {
		return NewStore(db, logger), nil
	}

	// XXX quiesce the DB so we can be sure it's safe to make a backup copy
	db.Close()
	db = nil
	if allowAutoupgrade {
		err = performAutoUpgrade(version, path)
		if err != nil {
			return
		}
		// successful autoupgrade, let's try this again:
		return openDatabaseInternal(path, false, logger)
	} else {
		err = &utils.IncompatibleSchemaError{CurrentVersion: version, RequiredVersion: datastore.SchemaVersion}
		return
	}
}

func performAutoUpgrade(currentVersion int, path string) (err error) {
	log.Printf("attempting to auto-upgrade schema from version %d to %d\n", currentVersion, datastore.SchemaVersion)
	timestamp := time.Now().UTC().Format("2006-01-02-15:04:05.000Z")
	backupPath := fmt.Sprintf("%s.v%d.%s.bak", path, currentVersion, timestamp)
	log.Printf("making a backup of current database at %s\n", backupPath)
	err = utils.CopyFile(path, backupPath)
	if err != nil {
		return err
	}

	err = UpgradeDB(path)
	if err != nil {
		// database upgrade is a single transaction, so we don't need to restore the backup;
		// we can just delete it
		os.Remove(backupPath)
	}
	return err
}

// UpgradeDB upgrades the datastore to the latest schema. Snapshots written
// by older releases carry their layout version in the DBV row, which the
// registry loader understands, so only the stored marker moves forward; a
// datastore from a newer release is refused.
func UpgradeDB(path string) (err error) {
	// test that the database exists
	_, err = os.Stat(path)
	if err != nil {
		return err
	}

	store, err := buntdb.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.Update(func(tx *buntdb.Tx) error {
		version, err := readVersion(tx)
		if err != nil {
			return err
		}
		if version > datastore.SchemaVersion {
			// unable to upgrade to the desired version, roll back
			return &utils.IncompatibleSchemaError{CurrentVersion: version, RequiredVersion: datastore.SchemaVersion}
		}
		if version == datastore.SchemaVersion {
			return nil
		}
		log.Printf("attempting to update schema from version %d\n", version)
		_, _, err = tx.Set(keySchemaVersion, strconv.Itoa(datastore.SchemaVersion), nil)
		if err == nil {
			log.Printf("successfully updated schema to version %d\n", datastore.SchemaVersion)
		}
		return err
	})

	if err != nil {
		log.Printf("database upgrade failed and was rolled back: %v\n", err)
	}
	return err
}
