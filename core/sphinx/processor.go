// processor.go - Sphinx header processing.
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

	"github.com/katzenpost/hpqc/nike"

	"github.com/katzenpost/sphinxheader/core/sphinx/commands"
	"github.com/katzenpost/sphinxheader/core/sphinx/constants"
	"github.com/katzenpost/sphinxheader/core/sphinx/internal/crypto"
)

// Result is the outcome of successfully processing a header.
type Result struct {
	// State is StateForward or StateDeliverLocal.
	State State

	// NextHop is the node the header must be forwarded to, for
	// StateForward.
	NextHop [constants.NodeIDLength]byte

	// Header is the header to forward, for StateForward.  It is always a
	// freshly allocated buffer.
	Header []byte

	// SharedSecret is the secret shared with the sender, for
	// StateDeliverLocal.  The payload layer derives its key from it with
	// PayloadKey.
	SharedSecret SharedSecret

	// ReplayTag identifies the processed header for replay detection.  It
	// is the hash of alpha, which is unique per hop of every header.
	ReplayTag [ReplayTagLength]byte
}

// IsForward returns true iff the header is to be forwarded.
func (r *Result) IsForward() bool {
	return r.State == StateForward
}

// Reset clears the shared secret held by the result, if any.
func (r *Result) Reset() {
	r.SharedSecret.Reset()
}

// ProcessHeader processes a Sphinx header with the relay private key
// privKey.  The header moves through the states Received, KeyDerived,
// Verified and Unblinded, and ends either in StateForward, with the
// transformed header and the next hop, or in StateDeliverLocal.
//
// On failure a *RejectError carrying the terminal drop state is returned.
// Relays must drop such headers silently.  hdr is never modified.
func (s *Sphinx) ProcessHeader(privKey nike.PrivateKey, hdr []byte) (*Result, error) {
	h, err := s.ParseHeader(hdr)
	if err != nil {
		return nil, reject(StateDroppedBadKey, err)
	}

	// Received -> KeyDerived
	secret, keys, err := s.deriveRelayKeys(privKey, h.Alpha)
	if err != nil {
		return nil, reject(StateDroppedBadKey, err)
	}
	defer keys.Reset()

	// KeyDerived -> Verified
	if !verifyTag(keys, h.Beta, h.Gamma) {
		secret.Reset()
		return nil, reject(StateDroppedBadTag, ErrAuthenticationFailure)
	}

	// Verified -> Unblinded
	slot, nextBeta := s.unblindRoutingInfo(keys, h.Beta)

	// Unblinded -> {Forward, DeliverLocal}
	cmd, err := commands.FromBytes(slot)
	if err != nil {
		secret.Reset()
		return nil, reject(StateDroppedBadCommand, ErrInvalidCommand)
	}

	res := &Result{
		ReplayTag: crypto.Hash(h.Alpha),
	}
	switch c := cmd.(type) {
	case *commands.NextNodeHop:
		nextAlpha, err := s.blindAlpha(h.Alpha, keys)
		if err != nil {
			secret.Reset()
			return nil, reject(StateDroppedBadKey, err)
		}
		next, err := s.NewHeaderFromFields(nextAlpha, nextBeta, c.MAC[:])
		if err != nil {
			panic("sphinx: BUG: " + err.Error())
		}
		secret.Reset()
		res.State = StateForward
		res.NextHop = c.ID
		res.Header = next.Bytes()
	case *commands.Deliver:
		res.State = StateDeliverLocal
		res.SharedSecret = secret
	default:
		panic(fmt.Sprintf("sphinx: BUG: unhandled command %T", cmd))
	}
	return res, nil
}

// blindAlpha returns the next hop's group element.
func (s *Sphinx) blindAlpha(alpha []byte, keys *crypto.PacketKeys) (next []byte, err error) {
	err = guard(func() error {
		pk, err := s.nike.UnmarshalBinaryPublicKey(alpha)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidGroupElement, err)
		}
		next = s.nike.Blind(pk, keys.BlindingFactor).Bytes()
		return nil
	})
	return
}
