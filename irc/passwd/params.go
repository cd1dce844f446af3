// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package passwd

import (
	"github.com/ergochat/ergo-services/irc/digest"
	"github.com/ergochat/ergo-services/irc/utils"
)

// Params are the configured parameters for newly generated verifiers.
type Params struct {
	Digest     digest.Algorithm
	SCRAM      bool
	Iterations int
	SaltLength int
}

// DefaultParams matches the stock configuration.
func DefaultParams() Params {
	return Params{
		Digest:     digest.SHA512,
		SCRAM:      true,
		Iterations: DefaultIterations,
		SaltLength: DefaultSaltLength,
	}
}

// PRF returns the PRF identifier new verifiers are written with.
func (p Params) PRF() PRF {
	return PRFFor(p.Digest, p.SCRAM)
}

// Validate checks the parameters against the codec limits.
func (p Params) Validate() error {
	if !p.Digest.Valid() {
		return digest.ErrUnknownAlgorithm
	}
	if p.Iterations < MinIterations || p.Iterations > MaxIterations {
		return ErrIterationsRange
	}
	if p.SaltLength < MinSaltLength || p.SaltLength > MaxSaltLength {
		return ErrSaltLength
	}
	return nil
}

// Generate creates a verifier for password with a fresh random salt.
func (p Params) Generate(password string) (string, error) {
	salt := utils.GenerateSalt(p.SaltLength)
	defer utils.Wipe(salt)
	return Encode(password, p.PRF(), p.Iterations, salt)
}

// NeedsRehash reports whether a stored credential should be replaced after
// the next successful password login: any non-PBKDF2v2 format, or a
// PBKDF2v2 verifier whose parameters differ from the configured ones.
func (p Params) NeedsRehash(hash string) bool {
	if DetectFormat(hash) != FormatPBKDF2v2 {
		return true
	}
	v, err := Decode(hash)
	if err != nil {
		return true
	}
	defer v.Wipe()
	return v.PRF != p.PRF() || v.Iterations != p.Iterations || len(v.Salt) != p.SaltLength
}
