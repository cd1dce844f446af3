// Copyright (c) 2020 Shivaram Lingamneni
// released under the MIT license

package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/ergochat/ergo-services/irc/datastore"
	"github.com/ergochat/ergo-services/irc/logger"
	"github.com/ergochat/ergo-services/irc/utils"
)

var (
	ErrNotOpen = errors.New("mysql datastore is not open")
)

const (
	keySchemaVersion = "db.version"
)

// Store implements datastore.Store on a MySQL database. The snapshot
// lives in the services_rows table, one row per record, and is replaced
// in a single transaction.
type Store struct {
	timeout int64
	db      *sql.DB
	logger  *logger.Manager

	stateMutex sync.Mutex
	config     Config
}

func (mysql *Store) Initialize(logger *logger.Manager, config Config) {
	mysql.logger = logger
	mysql.SetConfig(config)
}

func (mysql *Store) SetConfig(config Config) {
	config.postprocess()
	atomic.StoreInt64(&mysql.timeout, int64(config.Timeout))
	mysql.stateMutex.Lock()
	mysql.config = config
	mysql.stateMutex.Unlock()
}

func (mysql *Store) getTimeout() time.Duration {
	return time.Duration(atomic.LoadInt64(&mysql.timeout))
}

func (mysql *Store) dsn() string {
	mysql.stateMutex.Lock()
	config := mysql.config
	mysql.stateMutex.Unlock()

	dsnConfig := mysqldriver.NewConfig()
	dsnConfig.User = config.User
	dsnConfig.Passwd = config.Password
	dsnConfig.DBName = config.Database
	if config.SocketPath != "" {
		dsnConfig.Net = "unix"
		dsnConfig.Addr = config.SocketPath
	} else if config.Port != 0 {
		dsnConfig.Net = "tcp"
		dsnConfig.Addr = fmt.Sprintf("%s:%d", config.Host, config.Port)
	}
	dsnConfig.Timeout = config.Timeout
	return dsnConfig.FormatDSN()
}

func (m *Store) Open() (err error) {
	db, err := sql.Open("mysql", m.dsn())
	if err != nil {
		return err
	}
	err = m.setup(db)
	if err != nil {
		db.Close()
		m.db = nil
	}
	return
}

func (m *Store) setup(db *sql.DB) (err error) {
	m.db = db
	m.db.SetMaxOpenConns(m.config.MaxConns)
	return m.fixSchemas()
}

func (mysql *Store) fixSchemas() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), mysql.getTimeout())
	defer cancel()

	_, err = mysql.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS metadata (
		key_name VARCHAR(32) primary key,
		value VARCHAR(32) NOT NULL
	) CHARSET=ascii COLLATE=ascii_bin;`)
	if err != nil {
		return err
	}

	var schema string
	err = mysql.db.QueryRowContext(ctx, `select value from metadata where key_name = ?;`, keySchemaVersion).Scan(&schema)
	if err == sql.ErrNoRows {
		err = mysql.createTables(ctx)
		if err != nil {
			return
		}
		_, err = mysql.db.ExecContext(ctx, `insert into metadata (key_name, value) values (?, ?);`, keySchemaVersion, strconv.Itoa(datastore.SchemaVersion))
		if err != nil {
			return
		}
		mysql.logger.Info("datastore", "Created mysql schema version", strconv.Itoa(datastore.SchemaVersion))
		return
	} else if err != nil {
		return err
	}

	version, err := strconv.Atoi(schema)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", schema, err)
	}
	if version != datastore.SchemaVersion {
		return &utils.IncompatibleSchemaError{CurrentVersion: version, RequiredVersion: datastore.SchemaVersion}
	}
	return nil
}

func (mysql *Store) createTables(ctx context.Context) (err error) {
	_, err = mysql.db.ExecContext(ctx, `CREATE TABLE services_rows (
		seq INT UNSIGNED NOT NULL PRIMARY KEY,
		data MEDIUMBLOB NOT NULL
	) CHARSET=ascii COLLATE=ascii_bin;`)
	return
}

func (mysql *Store) SaveSnapshot(ctx context.Context, rows []datastore.Row) (err error) {
	if mysql.db == nil {
		return ErrNotOpen
	}
	ctx, cancel := context.WithTimeout(ctx, mysql.getTimeout())
	defer cancel()

	tx, err := mysql.db.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `DELETE FROM services_rows;`)
	if err != nil {
		return
	}
	insert, err := tx.PrepareContext(ctx, `INSERT INTO services_rows (seq, data) VALUES (?, ?);`)
	if err != nil {
		return
	}
	defer insert.Close()
	for i, row := range rows {
		var data []byte
		data, err = marshalRow(row)
		if err != nil {
			return
		}
		_, err = insert.ExecContext(ctx, i, data)
		if err != nil {
			return
		}
	}
	err = tx.Commit()
	if err == nil {
		mysql.logger.Debug("datastore", "Saved snapshot of", strconv.Itoa(len(rows)), "rows to mysql")
	}
	return
}

func (mysql *Store) LoadSnapshot(ctx context.Context) (result []datastore.Row, err error) {
	if mysql.db == nil {
		return nil, ErrNotOpen
	}
	version, err := mysql.SchemaVersion(ctx)
	if err != nil {
		return
	}
	if version != datastore.SchemaVersion {
		return nil, datastore.ErrSchemaMismatch
	}

	ctx, cancel := context.WithTimeout(ctx, mysql.getTimeout())
	defer cancel()
	rows, err := mysql.db.QueryContext(ctx, `SELECT seq, data FROM services_rows ORDER BY seq;`)
	if err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		var seq uint64
		var data []byte
		if err = rows.Scan(&seq, &data); err != nil {
			return nil, err
		}
		var row datastore.Row
		if err = unmarshalRow(data, &row); err != nil {
			return nil, fmt.Errorf("services_rows %d: %w", seq, err)
		}
		result = append(result, row)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return
}

func (mysql *Store) SchemaVersion(ctx context.Context) (version int, err error) {
	if mysql.db == nil {
		return 0, ErrNotOpen
	}
	ctx, cancel := context.WithTimeout(ctx, mysql.getTimeout())
	defer cancel()

	var schema string
	err = mysql.db.QueryRowContext(ctx, `select value from metadata where key_name = ?;`, keySchemaVersion).Scan(&schema)
	if err == sql.ErrNoRows {
		return 0, datastore.ErrNotInitialized
	} else if err != nil {
		return
	}
	return strconv.Atoi(schema)
}

func (mysql *Store) Close() (err error) {
	if mysql.db != nil {
		err = mysql.db.Close()
		mysql.db = nil
	}
	return
}
