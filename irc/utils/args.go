// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package utils

import (
	"fmt"
)

// IncompatibleSchemaError is returned when a datastore was written with a
// schema this version cannot read.
type IncompatibleSchemaError struct {
	CurrentVersion  int
	RequiredVersion int
}

func (err *IncompatibleSchemaError) Error() string {
	return fmt.Sprintf("Database requires update. Expected schema v%d, got v%d", err.RequiredVersion, err.CurrentVersion)
}

func BoolDefaultTrue(value *bool) bool {
	if value != nil {
		return *value
	}
	return true
}
