// crypto.go - Cryptographic primitive wrappers.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package crypto provides the cryptographic primitives used to build and
// process Sphinx packet headers.
package crypto

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"hash"

	"gitlab.com/yawning/bsaes.git"

	"github.com/katzenpost/sphinxheader/core/utils"
)

const (
	// HashLength is the output size of the unkeyed hash in bytes.
	HashLength = sha512.Size256

	// MACKeyLength is the key size of the MAC in bytes.
	MACKeyLength = 32

	// MACLength is the tag size of the MAC in bytes.
	MACLength = sha256.Size

	// StreamKeyLength is the key size of the stream cipher in bytes.
	StreamKeyLength = 16

	// StreamIVLength is the IV size of the stream cipher in bytes.
	StreamIVLength = 16

	// PayloadKeyLength is the size of the key handed to the payload
	// encryption layer in bytes.
	PayloadKeyLength = 48
)

type resetable interface {
	Reset()
}

// Stream is the routing information stream cipher.
type Stream struct {
	cipher.Stream
}

// KeyStream fills the buffer dst with key stream output.
func (s *Stream) KeyStream(dst []byte) {
	utils.ExplicitBzero(dst)
	s.XORKeyStream(dst, dst)
}

// Reset clears the Stream instance such that no sensitive data is left in
// memory.
func (s *Stream) Reset() {
	// bsaes's ctrAble implementation exposes this, `crypto/aes` does not.
	if r, ok := s.Stream.(resetable); ok {
		r.Reset()
	}
}

// Hash calculates the digest of message m.
func Hash(msg []byte) [HashLength]byte {
	return sha512.Sum512_256(msg)
}

// NewMAC returns a new hash.Hash implementing the header MAC (HMAC-SHA256,
// untruncated) with the provided key.
func NewMAC(key *[MACKeyLength]byte) hash.Hash {
	return hmac.New(sha256.New, key[:])
}

// MACEqual compares two tags in constant time.
func MACEqual(a, b []byte) bool {
	if len(a) != MACLength || len(b) != MACLength {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// NewStream returns a new Stream implementing the routing information
// stream cipher (AES-128-CTR) with the provided key and IV.
func NewStream(key *[StreamKeyLength]byte, iv *[StreamIVLength]byte) *Stream {
	// bsaes is smart enough to detect if the Go runtime and the CPU support
	// AES-NI and PCLMULQDQ and call `crypto/aes`.
	blk, err := bsaes.NewCipher(key[:])
	if err != nil {
		// Not covered by unit tests because this indicates a bug in bsaes.
		panic("crypto/NewStream: failed to create AES instance: " + err.Error())
	}
	return &Stream{cipher.NewCTR(blk, iv[:])}
}
