// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package datastore

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func assertEqual(supplied, expected interface{}, t *testing.T) {
	if !reflect.DeepEqual(supplied, expected) {
		t.Errorf("expected %v but got %v", expected, supplied)
	}
}

func TestNewRowValidation(t *testing.T) {
	_, err := NewRow("mu", Word("x"))
	assertEqual(err, ErrInvalidTag, t)
	_, err = NewRow("MU", Word("has space"))
	assertEqual(errors.Is(err, ErrInvalidWord), true, t)
	_, err = NewRow("MU", Word(""))
	assertEqual(errors.Is(err, ErrInvalidWord), true, t)
	_, err = NewRow("MU", String("strings may have spaces"), String(""))
	assertEqual(err, nil, t)
}

func TestRowJSON(t *testing.T) {
	registered := time.Unix(1600000000, 0).UTC()
	row, err := NewRow("MU", Word("id1"), Word("alice"), String("a b c"), Time(registered), Int(-5), Uint(7), Time(time.Time{}))
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(row)
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(string(data), `["MU","id1","alice","a b c","1600000000","-5","7","0"]`, t)

	var decoded Row
	if err = json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	r := NewReader(decoded)
	assertEqual(r.Tag(), "MU", t)
	assertEqual(r.Word(), "id1", t)
	assertEqual(r.Word(), "alice", t)
	assertEqual(r.Str(), "a b c", t)
	assertEqual(r.Time(), registered, t)
	assertEqual(r.Int(), int64(-5), t)
	assertEqual(r.Remaining(), 2, t)
	assertEqual(r.Uint(), uint64(7), t)
	assertEqual(r.Time().IsZero(), true, t)
	assertEqual(r.Err(), nil, t)
}

func TestReaderStickyError(t *testing.T) {
	r := NewReader(Row{Tag: "CA", Fields: []Field{String("#chan"), String("notanumber"), String("5")}})
	assertEqual(r.Word(), "#chan", t)
	assertEqual(r.Int(), int64(0), t)
	// later fields are not decoded once an error occurred
	assertEqual(r.Int(), int64(0), t)
	assertEqual(errors.Is(r.Err(), ErrInvalidField), true, t)

	r = NewReader(Row{Tag: "CA"})
	r.Word()
	assertEqual(errors.Is(r.Err(), ErrShortRow), true, t)

	var row Row
	assertEqual(json.Unmarshal([]byte(`[]`), &row), ErrInvalidTag, t)
}

func TestSnapshotWriter(t *testing.T) {
	var snapshot Snapshot
	var w RowWriter = &snapshot
	assertEqual(w.WriteRow("DBV", Int(12)), nil, t)
	assertEqual(w.WriteRow("bad"), ErrInvalidTag, t)
	assertEqual(len(snapshot.Rows), 1, t)
	assertEqual(snapshot.Rows[0].Tag, "DBV", t)
}
