// Copyright (c) 2018 Shivaram Lingamneni <slingamn@cs.stanford.edu>
// released under the MIT license

package utils

import (
	"strings"
	"testing"
)

func TestGenerateSecretToken(t *testing.T) {
	token := GenerateSecretToken()
	if len(token) != 32 {
		t.Errorf("bad token: %v", token)
	}
}

func TestGenerateNonce(t *testing.T) {
	nonce := GenerateNonce(64)
	if len(nonce) != 64 {
		t.Errorf("bad nonce length %d", len(nonce))
	}
	if strings.ContainsAny(nonce, ",=") {
		t.Errorf("nonce contains attribute separators: %s", nonce)
	}
	if nonce == GenerateNonce(64) {
		t.Errorf("nonces should not repeat")
	}
}

func TestWipe(t *testing.T) {
	a := []byte("secret")
	b := []byte{1, 2, 3}
	Wipe(a, b, nil)
	for _, buf := range [][]byte{a, b} {
		for _, c := range buf {
			if c != 0 {
				t.Fatalf("buffer was not wiped: %v", buf)
			}
		}
	}
}

func TestXORInto(t *testing.T) {
	dst := []byte{0x0f, 0xf0}
	XORInto(dst, []byte{0xff, 0xff})
	if dst[0] != 0xf0 || dst[1] != 0x0f {
		t.Errorf("unexpected xor result %v", dst)
	}
}

func BenchmarkGenerateSecretToken(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GenerateSecretToken()
	}
}
