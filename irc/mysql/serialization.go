package mysql

import (
	"encoding/json"
	"errors"

	"github.com/ergochat/ergo-services/irc/datastore"
)

var (
	errUnknownEncoding = errors.New("Unknown row encoding")
)

// 91 / '[' is the magic number that means a JSON-encoded row;
// if we want to do a binary encoding later, we just have to add different magic version numbers

func marshalRow(row datastore.Row) (result []byte, err error) {
	return json.Marshal(row)
}

func unmarshalRow(data []byte, result *datastore.Row) (err error) {
	if len(data) == 0 || data[0] != '[' {
		return errUnknownEncoding
	}
	return json.Unmarshal(data, result)
}
