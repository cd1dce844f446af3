// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package registry

import (
	"strings"

	"github.com/ergochat/confusables"
	"github.com/ergochat/irc-go/ircmsg"
	"golang.org/x/text/secure/precis"
	"golang.org/x/text/unicode/norm"

	"github.com/ergochat/ergo-services/irc/utils"
)

const (
	// GroupPrefix starts every group name
	GroupPrefix = '!'
)

// Each pass of PRECIS casefolding is a composition of idempotent operations,
// but not idempotent itself. Therefore, RFC 8264 says "do it four times and hope
// it converges" (lolwtf). Golang's PRECIS implementation has a "repeat" option,
// which provides this functionality, but unfortunately it's not exposed publicly.
func iterateFolding(profile *precis.Profile, oldStr string) (str string, err error) {
	str = oldStr
	for i := 0; i < 4; i++ {
		str, err = profile.CompareKey(str)
		if err != nil {
			return "", err
		}
		if oldStr == str {
			break
		}
		oldStr = str
	}
	if oldStr != str {
		return "", errCouldNotStabilize
	}
	return str, nil
}

// Casefold returns a casefolded string, without doing any name or channel character checks.
func Casefold(str string) (string, error) {
	return iterateFolding(precis.UsernameCaseMapped, str)
}

// CasefoldAccount returns the canonical form of an account name.
func CasefoldAccount(name string) (string, error) {
	lowered, err := Casefold(name)
	if err != nil {
		return "", ErrInvalidName
	} else if len(lowered) == 0 {
		return "", ErrInvalidName
	}

	// space can't be used
	// , is used as a separator
	// * and ? are used in mask matching
	// ! and @ delimit hostmasks
	// : means trailing
	// # and ! are channel and group prefixes
	if strings.ContainsAny(lowered, " ,*?!@:") || strings.ContainsAny(string(lowered[0]), "#&~%+-") {
		return "", ErrInvalidName
	}
	return lowered, nil
}

// CasefoldGroup returns the canonical form of a group name; the leading
// '!' is kept.
func CasefoldGroup(name string) (string, error) {
	if len(name) < 2 || name[0] != GroupPrefix {
		return "", ErrInvalidName
	}
	lowered, err := Casefold(name[1:])
	if err != nil || strings.ContainsAny(lowered, " ,*?!@:") {
		return "", ErrInvalidName
	}
	return string(GroupPrefix) + lowered, nil
}

// CasefoldEntity dispatches on the group prefix.
func CasefoldEntity(name string) (string, error) {
	if len(name) != 0 && name[0] == GroupPrefix {
		return CasefoldGroup(name)
	}
	return CasefoldAccount(name)
}

// CasefoldChannel returns a casefolded version of a channel name.
func CasefoldChannel(name string) (string, error) {
	// don't casefold the preceding #'s
	var start int
	for start = 0; start < len(name) && name[start] == '#'; start += 1 {
	}
	if start == 0 || start == len(name) {
		return "", ErrInvalidName
	}

	lowered, err := Casefold(name[start:])
	if err != nil {
		return "", ErrInvalidName
	}
	if strings.ContainsAny(lowered, " ,*?") {
		return "", ErrInvalidName
	}
	return name[:start] + lowered, nil
}

// "boring" names are exempt from skeletonization.
// this is because confusables.txt considers various pure ASCII alphanumeric
// strings confusable: 0 and O, 1 and l, m and rn. IMO this causes more problems
// than it solves.
func isBoring(name string) bool {
	for i := 0; i < len(name); i += 1 {
		chr := name[i]
		if (chr >= 'a' && chr <= 'z') || (chr >= 'A' && chr <= 'Z') || (chr >= '0' && chr <= '9') {
			continue // alphanumerics
		}
		switch chr {
		case '$', '%', '^', '&', '(', ')', '{', '}', '[', ']', '<', '>', '=', '!':
			continue // benign printable ascii characters
		default:
			return false // potentially confusable ascii like | ' `, non-ascii
		}
	}
	return true
}

var skeletonCasefolder = precis.NewIdentifier(precis.FoldWidth, precis.LowerCase(), precis.Norm(norm.NFC))

// Skeleton produces a canonicalized identifier that tries to catch
// homoglyphic / confusable identifiers. The skeleton algorithm is applied
// before casefolding, so the skeleton is not a function of the casefolded
// name and must be computed from the original name.
func Skeleton(name string) (string, error) {
	if !isBoring(name) {
		name = confusables.Skeleton(name)
	}
	return iterateFolding(skeletonCasefolder, name)
}

// CanonicalizeHostmask expands a partial mask into nick!user@host form and
// lowercases it: "bob" becomes "bob!*@*", "*@example.com" becomes
// "*!*@example.com".
func CanonicalizeHostmask(mask string) (result string, err error) {
	if mask == "" || strings.ContainsAny(mask, " ,") {
		return "", ErrInvalidHostmask
	}
	if !strings.ContainsAny(mask, "!@") {
		mask = mask + "!*@*"
	} else if !strings.Contains(mask, "!") {
		mask = "*!" + mask
	}
	nuh, err := ircmsg.ParseNUH(mask)
	if err != nil {
		return "", ErrInvalidHostmask
	}
	if nuh.Name == "" {
		nuh.Name = "*"
	}
	if nuh.User == "" {
		nuh.User = "*"
	}
	if nuh.Host == "" {
		nuh.Host = "*"
	}
	return strings.ToLower(nuh.Canonical()), nil
}

// IsHostmask distinguishes a raw mask target from an entity name.
func IsHostmask(target string) bool {
	if len(target) != 0 && target[0] == GroupPrefix && !strings.ContainsAny(target[1:], "!@") {
		return utils.IsGlob(target)
	}
	return strings.ContainsAny(target, "!@") || utils.IsGlob(target)
}
