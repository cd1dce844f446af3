// Copyright (c) 2020 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package passwd

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xdg-go/stringprep"

	"github.com/ergochat/ergo-services/irc/digest"
	"github.com/ergochat/ergo-services/irc/utils"
)

// PBKDF2v2 verifiers look like
//
//	$z$<prf>$<iterations>$<salt>$<ServerKey>$<StoredKey>   (SCRAM form)
//	$z$<prf>$<iterations>$<salt>$<SaltedPassword>          (legacy form)
//
// where prf is an algorithm code (0, 20, 40, 60) plus a hash code (4, 5, 6).
// Codes 20 and 60 carry a base64 salt, otherwise the salt is taken literally;
// codes 40 and 60 carry SCRAM keys, otherwise the raw PBKDF2 output.

const (
	PBKDF2v2Prefix = "$z$"

	MinIterations     = 10000
	MaxIterations     = 5000000
	DefaultIterations = 64000

	MinSaltLength     = 8
	MaxSaltLength     = 64
	DefaultSaltLength = 32

	// clients built on Cyrus SASL refuse iteration counts above this
	CyrusIterationLimit = 0x10000
)

// PRF is the pseudo-random function identifier embedded in a verifier.
type PRF uint

const (
	prfAlgoPlain    = 0
	prfAlgoS64      = 20
	prfAlgoSCRAM    = 40
	prfAlgoSCRAMS64 = 60

	prfHashSHA1   = 4
	prfHashSHA256 = 5
	prfHashSHA512 = 6
)

const (
	PRFHMACSHA1       PRF = prfAlgoPlain + prfHashSHA1
	PRFHMACSHA256     PRF = prfAlgoPlain + prfHashSHA256
	PRFHMACSHA512     PRF = prfAlgoPlain + prfHashSHA512
	PRFHMACSHA1S64    PRF = prfAlgoS64 + prfHashSHA1
	PRFHMACSHA256S64  PRF = prfAlgoS64 + prfHashSHA256
	PRFHMACSHA512S64  PRF = prfAlgoS64 + prfHashSHA512
	PRFSCRAMSHA1      PRF = prfAlgoSCRAM + prfHashSHA1
	PRFSCRAMSHA256    PRF = prfAlgoSCRAM + prfHashSHA256
	PRFSCRAMSHA512    PRF = prfAlgoSCRAM + prfHashSHA512
	PRFSCRAMSHA1S64   PRF = prfAlgoSCRAMS64 + prfHashSHA1
	PRFSCRAMSHA256S64 PRF = prfAlgoSCRAMS64 + prfHashSHA256
	PRFSCRAMSHA512S64 PRF = prfAlgoSCRAMS64 + prfHashSHA512
)

var (
	ErrHashInvalid       = errors.New("password hash invalid for algorithm")
	ErrHashCheckFailed   = errors.New("passphrase did not match stored hash")
	ErrUnknownPRF        = errors.New("unknown PBKDF2 pseudo-random function")
	ErrIterationsRange   = errors.New("PBKDF2 iteration count out of range")
	ErrSaltLength        = errors.New("PBKDF2 salt length out of range")
	ErrInvalidSalt       = errors.New("PBKDF2 salt contains characters that cannot be stored literally")
	ErrPasswordEncoding  = errors.New("password could not be normalized")
	ErrAlreadySCRAM      = errors.New("verifier is already in SCRAM format")
	ErrEmptyPassword     = errors.New("empty password")
	ErrUnsupportedFormat = errors.New("password hash format is not supported")

	hmacServerKeyText = []byte("Server Key")
	hmacClientKeyText = []byte("Client Key")
)

func (prf PRF) algoCode() uint {
	return uint(prf) - uint(prf)%10
}

// Digest returns the hash algorithm selected by the PRF.
func (prf PRF) Digest() digest.Algorithm {
	switch prf % 10 {
	case prfHashSHA1:
		return digest.SHA1
	case prfHashSHA256:
		return digest.SHA256
	case prfHashSHA512:
		return digest.SHA512
	}
	return 0
}

// Valid reports whether the PRF is one this codec can handle.
func (prf PRF) Valid() bool {
	switch prf.algoCode() {
	case prfAlgoPlain, prfAlgoS64, prfAlgoSCRAM, prfAlgoSCRAMS64:
		return prf.Digest() != 0
	}
	return false
}

// IsSCRAM reports whether verifiers with this PRF store ServerKey/StoredKey.
func (prf PRF) IsSCRAM() bool {
	code := prf.algoCode()
	return code == prfAlgoSCRAM || code == prfAlgoSCRAMS64
}

// SaltBase64 reports whether the salt field is base64-encoded.
func (prf PRF) SaltBase64() bool {
	code := prf.algoCode()
	return code == prfAlgoS64 || code == prfAlgoSCRAMS64
}

// SCRAMVariant returns the SCRAM PRF that stores the same digest and salt encoding.
func (prf PRF) SCRAMVariant() PRF {
	if prf.IsSCRAM() {
		return prf
	}
	return prf + prfAlgoSCRAM
}

// PRFFor builds the PRF for a digest algorithm.
func PRFFor(alg digest.Algorithm, scram bool) PRF {
	var hashCode uint
	switch alg {
	case digest.SHA1:
		hashCode = prfHashSHA1
	case digest.SHA256:
		hashCode = prfHashSHA256
	case digest.SHA512:
		hashCode = prfHashSHA512
	}
	if scram {
		return PRF(prfAlgoSCRAMS64 + hashCode)
	}
	return PRF(prfAlgoS64 + hashCode)
}

// encoded length of a key of this digest's size
func keyEncodedLen(alg digest.Algorithm) int {
	return base64.StdEncoding.EncodedLen(alg.Size())
}

// Verifier is a decoded PBKDF2v2 credential.
type Verifier struct {
	PRF          PRF
	Digest       digest.Algorithm
	Iterations   int
	Salt         []byte
	ServerKey    []byte
	StoredKey    []byte
	DigestLength int
	IsSCRAM      bool

	// legacy verifiers only: the stored PBKDF2 output
	SaltedPassword []byte
}

// Wipe zeroes the key material held by the verifier.
func (v *Verifier) Wipe() {
	if v == nil {
		return
	}
	utils.Wipe(v.Salt, v.ServerKey, v.StoredKey, v.SaltedPassword)
}

// Normalize applies SASLprep to a password, as required before derivation.
func Normalize(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	result, err := stringprep.SASLprep.Prepare(password)
	if err != nil || result == "" {
		return "", ErrPasswordEncoding
	}
	return result, nil
}

func checkSalt(prf PRF, salt []byte) error {
	if len(salt) < MinSaltLength || len(salt) > MaxSaltLength {
		return ErrSaltLength
	}
	if !prf.SaltBase64() {
		for _, c := range salt {
			if c <= ' ' || c >= 0x7f || c == '$' {
				return ErrInvalidSalt
			}
		}
	}
	return nil
}

func encodeSalt(prf PRF, salt []byte) string {
	if prf.SaltBase64() {
		return base64.StdEncoding.EncodeToString(salt)
	}
	return string(salt)
}

// deriveKeys returns ServerKey and StoredKey from the salted password.
func deriveKeys(alg digest.Algorithm, saltedPassword []byte) (serverKey, storedKey []byte, err error) {
	serverKey, err = digest.OneshotHMAC(alg, saltedPassword, hmacServerKeyText)
	if err != nil {
		return
	}
	clientKey, err := digest.OneshotHMAC(alg, saltedPassword, hmacClientKeyText)
	if err != nil {
		return
	}
	defer utils.Wipe(clientKey)
	storedKey, err = digest.Oneshot(alg, clientKey)
	return
}

// Encode derives a verifier for the password with explicit parameters.
func Encode(password string, prf PRF, iterations int, salt []byte) (result string, err error) {
	if !prf.Valid() {
		return "", ErrUnknownPRF
	}
	if iterations < MinIterations || iterations > MaxIterations {
		return "", ErrIterationsRange
	}
	if err = checkSalt(prf, salt); err != nil {
		return
	}
	normalized, err := Normalize(password)
	if err != nil {
		return
	}

	alg := prf.Digest()
	saltedPassword, err := digest.PBKDF2(alg, []byte(normalized), salt, iterations)
	if err != nil {
		return
	}
	defer utils.Wipe(saltedPassword)

	var buf strings.Builder
	fmt.Fprintf(&buf, "%s%d$%d$%s$", PBKDF2v2Prefix, prf, iterations, encodeSalt(prf, salt))
	if prf.IsSCRAM() {
		serverKey, storedKey, err := deriveKeys(alg, saltedPassword)
		if err != nil {
			return "", err
		}
		buf.WriteString(base64.StdEncoding.EncodeToString(serverKey))
		buf.WriteByte('$')
		buf.WriteString(base64.StdEncoding.EncodeToString(storedKey))
		utils.Wipe(serverKey, storedKey)
	} else {
		buf.WriteString(base64.StdEncoding.EncodeToString(saltedPassword))
	}
	return buf.String(), nil
}

// IsPBKDF2v2 reports whether the stored credential uses this codec.
func IsPBKDF2v2(verifier string) bool {
	return strings.HasPrefix(verifier, PBKDF2v2Prefix)
}

// Decode parses and validates a verifier string. It never panics on
// malformed input; every inconsistency is reported as an error.
func Decode(verifier string) (result *Verifier, err error) {
	if !IsPBKDF2v2(verifier) {
		return nil, ErrUnsupportedFormat
	}
	parts := strings.Split(verifier, "$")
	if len(parts) != 6 && len(parts) != 7 {
		return nil, ErrHashInvalid
	}

	prfInt, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return nil, ErrUnknownPRF
	}
	prf := PRF(prfInt)
	if !prf.Valid() {
		return nil, ErrUnknownPRF
	}
	if prf.IsSCRAM() != (len(parts) == 7) {
		return nil, ErrHashInvalid
	}

	iterations, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, ErrHashInvalid
	}
	if iterations < MinIterations || iterations > MaxIterations {
		return nil, ErrIterationsRange
	}

	var salt []byte
	if prf.SaltBase64() {
		salt, err = base64.StdEncoding.DecodeString(parts[4])
		if err != nil {
			return nil, ErrHashInvalid
		}
	} else {
		salt = []byte(parts[4])
	}
	if err = checkSalt(prf, salt); err != nil {
		return nil, err
	}

	alg := prf.Digest()
	expectedLen := keyEncodedLen(alg)
	decodeKey := func(encoded string) ([]byte, error) {
		if len(encoded) != expectedLen {
			return nil, ErrHashInvalid
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(key) != alg.Size() {
			return nil, ErrHashInvalid
		}
		return key, nil
	}

	result = &Verifier{
		PRF:          prf,
		Digest:       alg,
		Iterations:   iterations,
		Salt:         salt,
		DigestLength: alg.Size(),
		IsSCRAM:      prf.IsSCRAM(),
	}

	if result.IsSCRAM {
		if result.ServerKey, err = decodeKey(parts[5]); err != nil {
			return nil, err
		}
		if result.StoredKey, err = decodeKey(parts[6]); err != nil {
			return nil, err
		}
	} else {
		if result.SaltedPassword, err = decodeKey(parts[5]); err != nil {
			return nil, err
		}
		result.ServerKey, result.StoredKey, err = deriveKeys(alg, result.SaltedPassword)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Verify checks a plaintext password against a PBKDF2v2 verifier.
func Verify(password, verifier string) bool {
	return checkPBKDF2v2(verifier, password) == nil
}

func checkPBKDF2v2(verifier, password string) (err error) {
	v, err := Decode(verifier)
	if err != nil {
		return err
	}
	defer v.Wipe()

	normalized, err := Normalize(password)
	if err != nil {
		return err
	}

	saltedPassword, err := digest.PBKDF2(v.Digest, []byte(normalized), v.Salt, v.Iterations)
	if err != nil {
		return err
	}
	defer utils.Wipe(saltedPassword)

	var candidate, expected []byte
	if v.IsSCRAM {
		candidate, err = digest.OneshotHMAC(v.Digest, saltedPassword, hmacServerKeyText)
		if err != nil {
			return err
		}
		defer utils.Wipe(candidate)
		expected = v.ServerKey
	} else {
		candidate = saltedPassword
		expected = v.SaltedPassword
	}

	if subtle.ConstantTimeCompare(candidate, expected) == 1 {
		return nil
	}
	return ErrHashCheckFailed
}

// UpgradeToSCRAM re-encodes a legacy verifier in SCRAM form, reusing the
// keys derived when it was decoded.
func UpgradeToSCRAM(v *Verifier) (string, error) {
	if v.IsSCRAM {
		return "", ErrAlreadySCRAM
	}
	if len(v.ServerKey) != v.DigestLength || len(v.StoredKey) != v.DigestLength {
		return "", ErrHashInvalid
	}
	prf := v.PRF.SCRAMVariant()
	return fmt.Sprintf("%s%d$%d$%s$%s$%s", PBKDF2v2Prefix, prf, v.Iterations, encodeSalt(prf, v.Salt),
		base64.StdEncoding.EncodeToString(v.ServerKey),
		base64.StdEncoding.EncodeToString(v.StoredKey)), nil
}
