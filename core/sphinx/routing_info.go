// routing_info.go - Sphinx routing information transform.
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
	"github.com/katzenpost/sphinxheader/core/sphinx/internal/crypto"
	"github.com/katzenpost/sphinxheader/core/utils"
)

// routingKeyStream returns n bytes of the hop's routing info keystream.
func routingKeyStream(keys *crypto.PacketKeys, n int) []byte {
	stream := keys.NewRoutingInfoStream()
	defer stream.Reset()

	ks := make([]byte, n)
	stream.KeyStream(ks)
	return ks
}

// unblindRoutingInfo is the relay side transform.  Beta is extended by a
// zero slot and decrypted, the leading slot is this hop's command and the
// remainder is the next hop's beta, the same width as the input.  beta is
// not modified.
func (s *Sphinx) unblindRoutingInfo(keys *crypto.PacketKeys, beta []byte) (slot, nextBeta []byte) {
	slotLen := s.slotLength()
	ks := routingKeyStream(keys, len(beta)+slotLen)
	defer utils.ExplicitBzero(ks)

	b := make([]byte, len(beta)+slotLen)
	copy(b, beta)
	utils.XorBytes(b, b, ks)
	return b[:slotLen:slotLen], b[slotLen:]
}

// blindRoutingInfo is the sender side inverse of unblindRoutingInfo.  The
// slot is prepended to the next hop's beta, the tail that falls off the end
// is dropped, and the result is encrypted.
func (s *Sphinx) blindRoutingInfo(keys *crypto.PacketKeys, slot, nextBeta []byte) []byte {
	riLen := s.routingInfoLength()
	ks := routingKeyStream(keys, riLen)
	defer utils.ExplicitBzero(ks)

	b := make([]byte, 0, riLen)
	b = append(b, slot...)
	b = append(b, nextBeta[:riLen-len(slot)]...)
	utils.XorBytes(b, b, ks)
	return b
}
