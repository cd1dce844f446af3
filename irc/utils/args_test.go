// Copyright (c) 2019 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package utils

import (
	"reflect"
	"testing"
)

func assertEqual(supplied, expected interface{}, t *testing.T) {
	t.Helper()
	if !reflect.DeepEqual(supplied, expected) {
		t.Errorf("expected %v but got %v", expected, supplied)
	}
}

func TestBoolDefaultTrue(t *testing.T) {
	yes, no := true, false
	assertEqual(BoolDefaultTrue(nil), true, t)
	assertEqual(BoolDefaultTrue(&yes), true, t)
	assertEqual(BoolDefaultTrue(&no), false, t)
}

func TestIncompatibleSchemaError(t *testing.T) {
	err := &IncompatibleSchemaError{CurrentVersion: 0, RequiredVersion: 1}
	assertEqual(err.Error(), "Database requires update. Expected schema v1, got v0", t)
}
