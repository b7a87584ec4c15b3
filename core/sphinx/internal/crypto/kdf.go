// kdf.go - Per-hop sub-key derivation.
// Copyright (C) 2025  The Katzenpost Authors.
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

package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/katzenpost/hpqc/nike"

	"github.com/katzenpost/sphinxheader/core/utils"
)

const kdfInfoPrefix = "katzenpost-sphinxheader-v0-"

// Domain separation tags, one per sub-key purpose.
const (
	PurposeIntegrity   = "integrity"
	PurposeRoutingInfo = "routing-info"
	PurposeBlinding    = "blinding"
	PurposePayload     = "payload"
)

// PacketKeys are the per-hop sub-keys, derived from the hop's shared
// secret.
type PacketKeys struct {
	HeaderMAC          [MACKeyLength]byte
	HeaderEncryption   [StreamKeyLength]byte
	HeaderEncryptionIV [StreamIVLength]byte
	PayloadEncryption  [PayloadKeyLength]byte
	BlindingFactor     nike.PrivateKey
}

// Reset clears the PacketKeys structure such that no sensitive data is left
// in memory.
func (k *PacketKeys) Reset() {
	utils.ExplicitBzero(k.HeaderMAC[:])
	utils.ExplicitBzero(k.HeaderEncryption[:])
	utils.ExplicitBzero(k.HeaderEncryptionIV[:])
	utils.ExplicitBzero(k.PayloadEncryption[:])
	if k.BlindingFactor != nil {
		k.BlindingFactor.Reset()
	}
}

// NewRoutingInfoStream returns the stream cipher keyed by the routing info
// sub-keys.
func (k *PacketKeys) NewRoutingInfoStream() *Stream {
	return NewStream(&k.HeaderEncryption, &k.HeaderEncryptionIV)
}

// Expand returns an HKDF-SHA256 reader over the shared secret, bound to the
// given purpose.
func Expand(sharedSecret []byte, purpose string) io.Reader {
	return hkdf.New(sha256.New, sharedSecret, nil, []byte(kdfInfoPrefix+purpose))
}

func expandInto(sharedSecret []byte, purpose string, dst ...[]byte) error {
	r := Expand(sharedSecret, purpose)
	for _, b := range dst {
		if _, err := io.ReadFull(r, b); err != nil {
			return fmt.Errorf("crypto: hkdf %s: %w", purpose, err)
		}
	}
	return nil
}

// KDF takes the hop's shared secret and returns the per-hop sub-keys.  The
// blinding factor is a private key of the provided NIKE scheme, sampled from
// the blinding purpose's HKDF output.
func KDF(sharedSecret []byte, scheme nike.Scheme) (*PacketKeys, error) {
	k := new(PacketKeys)
	if err := expandInto(sharedSecret, PurposeIntegrity, k.HeaderMAC[:]); err != nil {
		return nil, err
	}
	if err := expandInto(sharedSecret, PurposeRoutingInfo, k.HeaderEncryption[:], k.HeaderEncryptionIV[:]); err != nil {
		k.Reset()
		return nil, err
	}
	if err := expandInto(sharedSecret, PurposePayload, k.PayloadEncryption[:]); err != nil {
		k.Reset()
		return nil, err
	}

	var err error
	k.BlindingFactor, err = generatePrivateKey(scheme, Expand(sharedSecret, PurposeBlinding))
	if err != nil {
		k.Reset()
		return nil, err
	}
	return k, nil
}

// generatePrivateKey converts the panics some NIKE implementations raise on
// entropy failure into an error.
func generatePrivateKey(scheme nike.Scheme, rng io.Reader) (k nike.PrivateKey, err error) {
	defer func() {
		if r := recover(); r != nil {
			k = nil
			err = fmt.Errorf("crypto: failed to derive blinding factor: %v", r)
		}
	}()
	k = scheme.GeneratePrivateKey(rng)
	return
}
