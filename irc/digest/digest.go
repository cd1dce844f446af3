// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

// Package digest is the hashing backend used by the credential codec and the
// SCRAM mechanisms. Callers select an Algorithm and never touch hash
// constructors directly.
package digest

import (
	"crypto/hmac"
	"errors"
	"hash"

	"github.com/xdg-go/scram"
	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrUnknownAlgorithm = errors.New("unknown digest algorithm")
	ErrContextFinished  = errors.New("digest context already finalized")
)

// Algorithm selects one of the supported hash functions.
type Algorithm uint

const (
	SHA1 Algorithm = iota + 1
	SHA256
	SHA512
)

var (
	generators = map[Algorithm]scram.HashGeneratorFcn{
		SHA1:   scram.SHA1,
		SHA256: scram.SHA256,
		SHA512: scram.SHA512,
	}

	algorithmNames = map[Algorithm]string{
		SHA1:   "SHA1",
		SHA256: "SHA2-256",
		SHA512: "SHA2-512",
	}

	// SASL mechanism names for each algorithm
	mechanismNames = map[Algorithm]string{
		SHA1:   "SCRAM-SHA-1",
		SHA256: "SCRAM-SHA-256",
		SHA512: "SCRAM-SHA-512",
	}
)

// Valid reports whether alg names a supported algorithm.
func (alg Algorithm) Valid() bool {
	_, ok := generators[alg]
	return ok
}

func (alg Algorithm) String() string {
	if name, ok := algorithmNames[alg]; ok {
		return name
	}
	return "unknown"
}

// Size returns the digest length in bytes.
func (alg Algorithm) Size() int {
	switch alg {
	case SHA1:
		return 20
	case SHA256:
		return 32
	case SHA512:
		return 64
	default:
		return 0
	}
}

// New returns a fresh hash.Hash; it panics on an invalid algorithm.
func (alg Algorithm) New() hash.Hash {
	gen, ok := generators[alg]
	if !ok {
		panic(ErrUnknownAlgorithm)
	}
	return gen()
}

// MechanismName returns the SCRAM SASL mechanism name for this algorithm.
func (alg Algorithm) MechanismName() string {
	return mechanismNames[alg]
}

// AlgorithmForMechanism maps "SCRAM-SHA-256" and friends back to an Algorithm.
func AlgorithmForMechanism(mechanism string) (Algorithm, error) {
	for alg, name := range mechanismNames {
		if name == mechanism {
			return alg, nil
		}
	}
	return 0, ErrUnknownAlgorithm
}

// AlgorithmByName parses the configuration spelling ("sha1", "sha2-256", "sha2-512").
func AlgorithmByName(name string) (Algorithm, error) {
	switch name {
	case "sha1", "SHA1":
		return SHA1, nil
	case "sha256", "sha2-256", "SHA2-256":
		return SHA256, nil
	case "sha512", "sha2-512", "SHA2-512":
		return SHA512, nil
	}
	return 0, ErrUnknownAlgorithm
}

// Oneshot hashes data in a single call.
func Oneshot(alg Algorithm, data []byte) ([]byte, error) {
	if !alg.Valid() {
		return nil, ErrUnknownAlgorithm
	}
	h := alg.New()
	h.Write(data)
	return h.Sum(nil), nil
}

// OneshotHMAC computes HMAC(key, data) in a single call.
func OneshotHMAC(alg Algorithm, key, data []byte) ([]byte, error) {
	if !alg.Valid() {
		return nil, ErrUnknownAlgorithm
	}
	mac := hmac.New(generators[alg], key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// PBKDF2 derives a key of the algorithm's digest length.
func PBKDF2(alg Algorithm, password, salt []byte, iterations int) ([]byte, error) {
	if !alg.Valid() {
		return nil, ErrUnknownAlgorithm
	}
	return pbkdf2.Key(password, salt, iterations, alg.Size(), generators[alg]), nil
}

// Context is an incremental digest or HMAC computation.
type Context struct {
	alg      Algorithm
	h        hash.Hash
	finished bool
}

// Init starts an incremental digest.
func Init(alg Algorithm) (*Context, error) {
	if !alg.Valid() {
		return nil, ErrUnknownAlgorithm
	}
	return &Context{alg: alg, h: alg.New()}, nil
}

// InitHMAC starts an incremental HMAC keyed with key.
func InitHMAC(alg Algorithm, key []byte) (*Context, error) {
	if !alg.Valid() {
		return nil, ErrUnknownAlgorithm
	}
	return &Context{alg: alg, h: hmac.New(generators[alg], key)}, nil
}

// Update feeds more data into the computation.
func (ctx *Context) Update(data []byte) error {
	if ctx.finished {
		return ErrContextFinished
	}
	ctx.h.Write(data)
	return nil
}

// Final returns the digest; the context cannot be reused afterwards.
func (ctx *Context) Final() ([]byte, error) {
	if ctx.finished {
		return nil, ErrContextFinished
	}
	ctx.finished = true
	result := ctx.h.Sum(nil)
	ctx.h.Reset()
	return result, nil
}

// Algorithm returns the algorithm this context was created with.
func (ctx *Context) Algorithm() Algorithm {
	return ctx.alg
}
