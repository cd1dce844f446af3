// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package utils

import (
	"bytes"
	"regexp"
	"regexp/syntax"
	"strings"
)

// yet another glob implementation in Go

func addRegexp(buf *bytes.Buffer, glob string) (err error) {
	for _, r := range glob {
		switch r {
		case '*':
			buf.WriteString("(.*)")
		case '?':
			buf.WriteString("(.)")
		case 0xFFFD:
			return &syntax.Error{Code: syntax.ErrInvalidUTF8, Expr: glob}
		default:
			buf.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return nil
}

// CompileGlob compiles a glob pattern ('*' and '?' wildcards) into an
// anchored regular expression.
func CompileGlob(glob string) (result *regexp.Regexp, err error) {
	var buf bytes.Buffer
	buf.WriteByte('^')
	err = addRegexp(&buf, glob)
	if err != nil {
		return
	}
	buf.WriteByte('$')
	return regexp.Compile(buf.String())
}

// CompileMasks compiles a list of globs into a single regexp matching any of them.
func CompileMasks(masks []string) (result *regexp.Regexp, err error) {
	var buf bytes.Buffer
	buf.WriteString("^(")
	for i, mask := range masks {
		if i != 0 {
			buf.WriteByte('|')
		}
		buf.WriteByte('(')
		err = addRegexp(&buf, mask)
		if err != nil {
			return
		}
		buf.WriteByte(')')
	}
	buf.WriteString(")$")
	return regexp.Compile(buf.String())
}

// IsGlob reports whether the string contains glob wildcards.
func IsGlob(str string) bool {
	return strings.ContainsAny(str, "*?")
}
