// Copyright (c) 2018 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package utils

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

const (
	nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// generate a secret token that cannot be brute-forced via online attacks
func GenerateSecretToken() string {
	// 128 bits of entropy are enough to resist any online attack:
	var buf [16]byte
	rand.Read(buf[:])
	// 32 ASCII characters, should be fine for most purposes
	return hex.EncodeToString(buf[:])
}

// GenerateNonce returns `length` random alphanumeric characters; the output
// never contains ',' or '=' and is safe to embed in SASL attribute lists.
func GenerateNonce(length int) string {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(nonceAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		buf[i] = nonceAlphabet[n.Int64()]
	}
	return string(buf)
}

// GenerateSalt returns `length` bytes from the system CSPRNG.
func GenerateSalt(length int) []byte {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return buf
}

// Wipe overwrites each buffer with zeroes.
func Wipe(bufs ...[]byte) {
	for _, buf := range bufs {
		for i := range buf {
			buf[i] = 0
		}
	}
}

// XORInto sets dst[i] ^= src[i]; the slices must have equal length.
func XORInto(dst, src []byte) {
	if len(dst) != len(src) {
		panic("XORInto on slices of unequal length")
	}
	for i := range dst {
		dst[i] ^= src[i]
	}
}
