// Copyright (c) 2022 Shivaram Lingamneni
// released under the MIT license

package bunt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/buntdb"

	"github.com/ergochat/ergo-services/irc/datastore"
	"github.com/ergochat/ergo-services/irc/logger"
)

const (
	keySchemaVersion = "db.version"
	rowPrefix        = "snapshot.row "
)

// rowKey yields the key of the nth row; zero padding keeps the default
// index in snapshot order.
func rowKey(n int) string {
	return fmt.Sprintf("%s%08d", rowPrefix, n)
}

// Store implements datastore.Store using a buntdb.
type Store struct {
	db     *buntdb.DB
	logger *logger.Manager
}

// NewStore wraps an open buntdb; OpenDatabase is the usual way to get one.
func NewStore(db *buntdb.DB, logger *logger.Manager) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

func (b *Store) SaveSnapshot(ctx context.Context, rows []datastore.Row) (err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	values := make([]string, len(rows))
	for i, row := range rows {
		encoded, err := json.Marshal(row)
		if err != nil {
			return err
		}
		values[i] = string(encoded)
	}

	err = b.db.Update(func(tx *buntdb.Tx) error {
		var stale []string
		err := tx.AscendGreaterOrEqual("", rowPrefix, func(key, value string) bool {
			if !strings.HasPrefix(key, rowPrefix) {
				return false
			}
			stale = append(stale, key)
			return true
		})
		if err != nil {
			return err
		}
		for _, key := range stale {
			if _, err := tx.Delete(key); err != nil {
				return err
			}
		}
		for i, value := range values {
			if _, _, err := tx.Set(rowKey(i), value, nil); err != nil {
				return err
			}
		}
		_, _, err = tx.Set(keySchemaVersion, strconv.Itoa(datastore.SchemaVersion), nil)
		return err
	})
	if err == nil {
		b.logger.Debug("datastore", "Saved snapshot of", strconv.Itoa(len(rows)), "rows")
	}
	return
}

func (b *Store) LoadSnapshot(ctx context.Context) (rows []datastore.Row, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	err = b.db.View(func(tx *buntdb.Tx) error {
		version, err := readVersion(tx)
		if err != nil {
			return err
		}
		if version != datastore.SchemaVersion {
			return datastore.ErrSchemaMismatch
		}
		var rowErr error
		err = tx.AscendGreaterOrEqual("", rowPrefix, func(key, value string) bool {
			if !strings.HasPrefix(key, rowPrefix) {
				return false
			}
			var row datastore.Row
			if rowErr = json.Unmarshal([]byte(value), &row); rowErr != nil {
				rowErr = fmt.Errorf("%s: %w", key, rowErr)
				return false
			}
			rows = append(rows, row)
			return true
		})
		if err != nil {
			return err
		}
		return rowErr
	})
	if err != nil {
		rows = nil
	}
	return
}

func (b *Store) SchemaVersion(ctx context.Context) (version int, err error) {
	err = b.db.View(func(tx *buntdb.Tx) error {
		version, err = readVersion(tx)
		return err
	})
	return
}

func (b *Store) Close() error {
	return b.db.Close()
}

func readVersion(tx *buntdb.Tx) (int, error) {
	value, err := tx.Get(keySchemaVersion)
	if err == buntdb.ErrNotFound {
		return 0, datastore.ErrNotInitialized
	} else if err != nil {
		return 0, err
	}
	version, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q: %w", value, err)
	}
	return version, nil
}
