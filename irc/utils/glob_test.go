// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package utils

import (
	"regexp"
	"testing"
)

func globMustCompile(glob string) *regexp.Regexp {
	re, err := CompileGlob(glob)
	if err != nil {
		panic(err)
	}
	return re
}

func assertMatches(glob, str string, match bool, t *testing.T) {
	re := globMustCompile(glob)
	if re.MatchString(str) != match {
		t.Errorf("should %s match %s? %t, but got %t instead", glob, str, match, !match)
	}
}

func TestGlob(t *testing.T) {
	assertMatches("*!*@*.example.com", "alice!ident@host.example.com", true, t)
	assertMatches("*!*@*.example.com", "alice!ident@example.com", false, t)
	assertMatches("*!~*@*", "bob!~bob@203.0.113.9", true, t)
	assertMatches("*!~*@*", "bob!bob@203.0.113.9", false, t)

	assertMatches("", "", true, t)
	assertMatches("", "x", false, t)
	assertMatches("*", "", true, t)
	assertMatches("*", "x", true, t)

	assertMatches("c?b", "cab", true, t)
	assertMatches("c?b", "cb", false, t)
	assertMatches("c?b", "cube", false, t)
	assertMatches("?*", "", false, t)

	assertMatches("S*e!*@*", "Skåne!u@h", true, t)
	assertMatches("Sk?ne!*@*", "Skåne!u@h", true, t)
	assertMatches("a.b!*@*", "axb!u@h", false, t)
}

func TestMasks(t *testing.T) {
	matcher, err := CompileMasks([]string{
		"*!*@tor-network.onion",
		"qanon!*@*",
		"*!bibi@tor-network.onion",
	})
	if err != nil {
		panic(err)
	}

	if !matcher.MatchString("evan!user@tor-network.onion") {
		t.Errorf("match expected")
	}
	if !matcher.MatchString("qanon!x@example.com") {
		t.Errorf("match expected")
	}
	if matcher.MatchString("horse!horse@example.com") {
		t.Errorf("match not expected")
	}
	if !IsGlob("*!*@*") || IsGlob("nick!user@host") {
		t.Errorf("IsGlob is wrong")
	}
}
