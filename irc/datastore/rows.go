// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package datastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidTag   = errors.New("row tag must be a non-empty upper-case word")
	ErrInvalidWord  = errors.New("word fields must be non-empty and contain no whitespace")
	ErrShortRow     = errors.New("row has fewer fields than expected")
	ErrInvalidField = errors.New("row field has the wrong type")
)

// Kind is the type of a row field.
type Kind uint8

const (
	KindWord Kind = iota
	KindString
	KindInt
	KindTime
)

// Field is one typed value of a row. All kinds are stored as text; the
// reader decides how to interpret each position.
type Field struct {
	Kind  Kind
	Value string
}

// Word is a field without whitespace, such as a name, an ID or a flag string.
func Word(word string) Field {
	return Field{Kind: KindWord, Value: word}
}

// String is a free-form field.
func String(str string) Field {
	return Field{Kind: KindString, Value: str}
}

func Int(i int64) Field {
	return Field{Kind: KindInt, Value: strconv.FormatInt(i, 10)}
}

func Uint(u uint64) Field {
	return Field{Kind: KindInt, Value: strconv.FormatUint(u, 10)}
}

// Time is stored as seconds since the epoch; the zero time is stored as 0.
func Time(t time.Time) Field {
	if t.IsZero() {
		return Int(0)
	}
	return Field{Kind: KindTime, Value: strconv.FormatInt(t.Unix(), 10)}
}

// Row is one record of a snapshot: a tag naming the record type followed
// by its fields.
type Row struct {
	Tag    string
	Fields []Field
}

// RowWriter receives the rows of a snapshot in order.
type RowWriter interface {
	WriteRow(tag string, fields ...Field) error
}

func validTag(tag string) bool {
	if tag == "" {
		return false
	}
	for _, r := range tag {
		if !(('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') || r == '_') {
			return false
		}
	}
	return true
}

// NewRow validates and builds a row.
func NewRow(tag string, fields ...Field) (row Row, err error) {
	if !validTag(tag) {
		return row, ErrInvalidTag
	}
	for _, field := range fields {
		if field.Kind == KindWord && (field.Value == "" || strings.ContainsAny(field.Value, " \t\r\n")) {
			return row, fmt.Errorf("%w: %s %q", ErrInvalidWord, tag, field.Value)
		}
	}
	return Row{Tag: tag, Fields: fields}, nil
}

// MarshalJSON encodes the row as a flat array: [tag, field, field, ...].
func (row Row) MarshalJSON() ([]byte, error) {
	values := make([]string, 0, len(row.Fields)+1)
	values = append(values, row.Tag)
	for _, field := range row.Fields {
		values = append(values, field.Value)
	}
	return json.Marshal(values)
}

func (row *Row) UnmarshalJSON(data []byte) (err error) {
	var values []string
	if err = json.Unmarshal(data, &values); err != nil {
		return err
	}
	if len(values) == 0 || !validTag(values[0]) {
		return ErrInvalidTag
	}
	row.Tag = values[0]
	row.Fields = make([]Field, len(values)-1)
	for i, value := range values[1:] {
		// kinds are not stored; the reader interprets each position
		row.Fields[i] = Field{Kind: KindString, Value: value}
	}
	return nil
}

// Reader decodes the fields of a row in order. The first error is sticky:
// once a field fails to decode, every later call returns a zero value and
// Err reports the failure.
type Reader struct {
	row Row
	pos int
	err error
}

func NewReader(row Row) *Reader {
	return &Reader{row: row}
}

func (r *Reader) Tag() string {
	return r.row.Tag
}

func (r *Reader) next() (value string, ok bool) {
	if r.err != nil {
		return "", false
	}
	if r.pos >= len(r.row.Fields) {
		r.err = fmt.Errorf("%w: %s needs field %d", ErrShortRow, r.row.Tag, r.pos+1)
		return "", false
	}
	value = r.row.Fields[r.pos].Value
	r.pos++
	return value, true
}

func (r *Reader) Word() string {
	value, ok := r.next()
	if ok && (value == "" || strings.ContainsAny(value, " \t\r\n")) {
		r.err = fmt.Errorf("%w: %s field %d", ErrInvalidWord, r.row.Tag, r.pos)
		return ""
	}
	return value
}

func (r *Reader) Str() string {
	value, _ := r.next()
	return value
}

func (r *Reader) Int() int64 {
	value, ok := r.next()
	if !ok {
		return 0
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		r.err = fmt.Errorf("%w: %s field %d: %v", ErrInvalidField, r.row.Tag, r.pos, err)
		return 0
	}
	return result
}

func (r *Reader) Uint() uint64 {
	value, ok := r.next()
	if !ok {
		return 0
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		r.err = fmt.Errorf("%w: %s field %d: %v", ErrInvalidField, r.row.Tag, r.pos, err)
		return 0
	}
	return result
}

func (r *Reader) Time() time.Time {
	seconds := r.Int()
	if r.err != nil || seconds == 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}

// Remaining returns the number of unread fields, for optional trailing fields.
func (r *Reader) Remaining() int {
	return len(r.row.Fields) - r.pos
}

func (r *Reader) Err() error {
	return r.err
}
