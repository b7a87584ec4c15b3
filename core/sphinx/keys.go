// keys.go - Sphinx per-hop key derivation.
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

package sphinx

import (
	"fmt"
	"io"

	"github.com/katzenpost/hpqc/nike"

	"github.com/katzenpost/sphinxheader/core/sphinx/internal/crypto"
	"github.com/katzenpost/sphinxheader/core/utils"
)

// SharedSecret is the secret a sender shares with one hop of a path.  It
// never appears on the wire.
type SharedSecret []byte

// Reset clears the shared secret.
func (s SharedSecret) Reset() {
	utils.ExplicitBzero(s)
}

// PayloadKey derives the payload layer's key material from a shared secret
// returned by NewHeader or ProcessHeader.  The header layer derives it but
// never uses it.
func (s *Sphinx) PayloadKey(secret SharedSecret) (*[PayloadKeyLength]byte, error) {
	if err := s.checkSecret(secret); err != nil {
		return nil, err
	}
	keys, err := crypto.KDF(secret, s.nike)
	if err != nil {
		return nil, err
	}
	defer keys.Reset()

	k := new([PayloadKeyLength]byte)
	copy(k[:], keys.PayloadEncryption[:])
	return k, nil
}

func (s *Sphinx) checkSecret(secret []byte) error {
	if len(secret) == 0 || utils.CtIsZero(secret) {
		return ErrInvalidGroupElement
	}
	return nil
}

// hopKeys is the per-hop output of sender side key derivation.
type hopKeys struct {
	alpha  nike.PublicKey
	secret SharedSecret
	keys   *crypto.PacketKeys
}

func (h *hopKeys) reset() {
	h.secret.Reset()
	if h.keys != nil {
		h.keys.Reset()
	}
}

// guard runs fn, converting a panic raised by the NIKE on a degenerate
// group element into ErrInvalidGroupElement.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidGroupElement, r)
		}
	}()
	return fn()
}

// blindSecret blinds a shared secret, interpreted as a group element, by the
// blinding factor b.
func (s *Sphinx) blindSecret(secret []byte, b nike.PrivateKey) ([]byte, error) {
	pk, err := s.nike.UnmarshalBinaryPublicKey(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGroupElement, err)
	}
	defer pk.Reset()
	return s.nike.Blind(pk, b).Bytes(), nil
}

// deriveSenderKeys draws one ephemeral key pair from rng and derives the
// group element, shared secret and packet keys of every hop.  Hop i's
// secret is DH(x, PK_i) blinded by the blinding factors of hops 0..i-1,
// and its group element is the initial one blinded by the same factors, so
// that DH(sk_i, alpha_i) yields the same secret.
func (s *Sphinx) deriveSenderKeys(rng io.Reader, path []*PathHop) ([]*hopKeys, error) {
	clientPublicKey, clientPrivateKey, err := s.nike.GenerateKeyPairFromEntropy(rng)
	if err != nil {
		return nil, fmt.Errorf("sphinx: failed to generate ephemeral key: %w", err)
	}
	defer clientPrivateKey.Reset()

	hops := make([]*hopKeys, 0, len(path))
	err = guard(func() error {
		groupElement := clientPublicKey
		for i, hop := range path {
			h := &hopKeys{alpha: groupElement}
			hops = append(hops, h)

			secret := s.nike.DeriveSecret(clientPrivateKey, hop.PublicKey)
			for j := 0; j < i; j++ {
				blinded, err := s.blindSecret(secret, hops[j].keys.BlindingFactor)
				utils.ExplicitBzero(secret)
				if err != nil {
					return err
				}
				secret = blinded
			}
			h.secret = secret
			if err := s.checkSecret(secret); err != nil {
				return err
			}

			keys, err := crypto.KDF(secret, s.nike)
			if err != nil {
				return err
			}
			h.keys = keys
			if i < len(path)-1 {
				groupElement = s.nike.Blind(groupElement, keys.BlindingFactor)
			}
		}
		return nil
	})
	if err != nil {
		for _, h := range hops {
			h.reset()
		}
		return nil, err
	}
	return hops, nil
}

// deriveRelayKeys derives the shared secret a relay holding privKey shares
// with the sender of a header whose group element is alpha.
func (s *Sphinx) deriveRelayKeys(privKey nike.PrivateKey, alpha []byte) (SharedSecret, *crypto.PacketKeys, error) {
	var secret SharedSecret
	err := guard(func() error {
		pk, err := s.nike.UnmarshalBinaryPublicKey(alpha)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidGroupElement, err)
		}
		secret = s.nike.DeriveSecret(privKey, pk)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if err = s.checkSecret(secret); err != nil {
		secret.Reset()
		return nil, nil, err
	}

	keys, err := crypto.KDF(secret, s.nike)
	if err != nil {
		secret.Reset()
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidGroupElement, err)
	}
	return secret, keys, nil
}
