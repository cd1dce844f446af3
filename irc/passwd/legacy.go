// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package passwd

import (
	"crypto/md5"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/GehirnInc/crypt/md5_crypt"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// Older credential formats that may still be present in an imported
// database. They can be verified but never generated; a successful password
// login against one of them triggers a rehash into the configured format.

const (
	rawMD5Prefix   = "$rawmd5$"
	md5CryptPrefix = "$1$"
	// crypto/pbkdf2 (v1): 16 literal salt characters + 128 hex digits of SHA-512 output
	pbkdf2v1Length     = 144
	pbkdf2v1Iterations = 128000
)

// Format identifies the stored credential family.
type Format uint

const (
	FormatUnknown Format = iota
	FormatNone
	FormatPBKDF2v2
	FormatPBKDF2v1
	FormatMD5Crypt
	FormatRawMD5
	FormatBcrypt
)

func (f Format) String() string {
	switch f {
	case FormatNone:
		return "none"
	case FormatPBKDF2v2:
		return "pbkdf2v2"
	case FormatPBKDF2v1:
		return "pbkdf2"
	case FormatMD5Crypt:
		return "crypt3-md5"
	case FormatRawMD5:
		return "rawmd5"
	case FormatBcrypt:
		return "bcrypt"
	}
	return "unknown"
}

// DetectFormat guesses the format of a stored credential from its shape.
func DetectFormat(hash string) Format {
	switch {
	case hash == "":
		return FormatNone
	case strings.HasPrefix(hash, PBKDF2v2Prefix):
		return FormatPBKDF2v2
	case strings.HasPrefix(hash, rawMD5Prefix):
		return FormatRawMD5
	case strings.HasPrefix(hash, md5CryptPrefix):
		return FormatMD5Crypt
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return FormatBcrypt
	case len(hash) == pbkdf2v1Length:
		return FormatPBKDF2v1
	}
	return FormatUnknown
}

// CheckPassphrase verifies a password against a stored credential of any
// supported format.
func CheckPassphrase(hash, passphrase string) (err error) {
	if passphrase == "" {
		return ErrEmptyPassword
	}
	switch DetectFormat(hash) {
	case FormatPBKDF2v2:
		return checkPBKDF2v2(hash, passphrase)
	case FormatPBKDF2v1:
		return checkPBKDF2v1(hash, passphrase)
	case FormatMD5Crypt:
		return checkMD5Crypt(hash, passphrase)
	case FormatRawMD5:
		return checkRawMD5(hash, passphrase)
	case FormatBcrypt:
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(passphrase)) != nil {
			return ErrHashCheckFailed
		}
		return nil
	}
	return ErrUnsupportedFormat
}

func checkMD5Crypt(hash, passphrase string) (err error) {
	// crypto/crypt3-md5: the glibc MD5 crypt(3)
	md5crypt := md5_crypt.New()
	if md5crypt.Verify(hash, []byte(passphrase)) != nil {
		return ErrHashCheckFailed
	}
	return nil
}

func checkRawMD5(hash, passphrase string) (err error) {
	expected, err := hex.DecodeString(hash[len(rawMD5Prefix):])
	if err != nil || len(expected) != md5.Size {
		return ErrHashInvalid
	}
	sum := md5.Sum([]byte(passphrase))
	if subtle.ConstantTimeCompare(sum[:], expected) == 1 {
		return nil
	}
	return ErrHashCheckFailed
}

func checkPBKDF2v1(hash, passphrase string) (err error) {
	salt := []byte(hash[:16])
	expected := make([]byte, sha512.Size)
	count, err := hex.Decode(expected, []byte(hash[16:]))
	if err != nil || count != sha512.Size {
		return ErrHashInvalid
	}

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2v1Iterations, sha512.Size, sha512.New)
	if subtle.ConstantTimeCompare(key, expected) == 1 {
		return nil
	}
	return ErrHashCheckFailed
}
