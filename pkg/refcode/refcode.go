// Package refcode turns audit ledger row ids into externally shareable
// application reference numbers. The encoding is a bijection over int64, so
// two distinct ids can never produce the same code, and a code always decodes
// back to the id it was minted from.
package refcode

import (
	"errors"
	"strings"
)

// alphabet deliberately omits vowels and visually ambiguous characters so
// codes are safe to read over the phone and cannot spell words.
const alphabet = "BCDFGHJKLMNPQRSTVWXZ23456789"

const minLength = 8

// mixer is an odd constant, which makes multiplication modulo 2^64 invertible.
const mixer uint64 = 0x9E3779B97F4A7C15

var unmixer uint64

var (
	ErrInvalidCode = errors.New("invalid_reference_code")
)

func init() {
	// Newton's iteration for the multiplicative inverse of mixer mod 2^64.
	inv := mixer
	for i := 0; i < 6; i++ {
		inv *= 2 - mixer*inv
	}
	unmixer = inv
}

// Encode obfuscates id and renders it in the fixed alphabet, left-padded to
// the minimum length.
func Encode(id int64) string {
	v := uint64(id) * mixer
	base := uint64(len(alphabet))

	var buf [16]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = alphabet[v%base]
		v /= base
	}
	code := string(buf[i:])
	if len(code) < minLength {
		code = strings.Repeat(string(alphabet[0]), minLength-len(code)) + code
	}
	return code
}

// Decode reverses Encode. Any string not produced by Encode either fails with
// ErrInvalidCode or decodes to an id that will not match a stored record.
func Decode(code string) (int64, error) {
	if code == "" || len(code) > 16 {
		return 0, ErrInvalidCode
	}
	base := uint64(len(alphabet))
	var v uint64
	for _, r := range code {
		idx := strings.IndexRune(alphabet, r)
		if idx < 0 {
			return 0, ErrInvalidCode
		}
		v = v*base + uint64(idx)
	}
	return int64(v * unmixer), nil
}
