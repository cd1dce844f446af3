// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2016 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"github.com/ergochat/ergo-services/irc/bunt"
	"github.com/ergochat/ergo-services/irc/datastore"
	"github.com/ergochat/ergo-services/irc/logger"
	"github.com/ergochat/ergo-services/irc/mysql"
)

// InitDB creates the datastore, implementing the `ergo-services initdb` command.
func InitDB(config *Config, logger *logger.Manager) error {
	if config.Datastore.MySQL.Enabled {
		// opening a mysql store creates the tables on first use
		store, err := openMySQL(config, logger)
		if err != nil {
			return err
		}
		return store.Close()
	}
	return bunt.InitDB(config.Datastore.Path)
}

// UpgradeDB upgrades the datastore to the latest schema.
func UpgradeDB(config *Config, logger *logger.Manager) error {
	if config.Datastore.MySQL.Enabled {
		store, err := openMySQL(config, logger)
		if err != nil {
			return err
		}
		return store.Close()
	}
	return bunt.UpgradeDB(config.Datastore.Path)
}

// OpenStore returns the configured backend, performing a schema version check.
func OpenStore(config *Config, logger *logger.Manager) (store datastore.Store, err error) {
	if config.Datastore.MySQL.Enabled {
		store, err = openMySQL(config, logger)
	} else {
		store, err = bunt.OpenDatabase(config.Datastore.Path, config.Datastore.AutoUpgrade, logger)
	}
	if err != nil {
		// don't return a typed nil
		return nil, err
	}
	return store, nil
}

func openMySQL(config *Config, logger *logger.Manager) (*mysql.Store, error) {
	store := new(mysql.Store)
	store.Initialize(logger, config.Datastore.MySQL)
	if err := store.Open(); err != nil {
		return nil, err
	}
	return store, nil
}
