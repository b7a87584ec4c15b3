// filler.go - Sphinx filler generation.
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

// generateFiller returns the filler for a path whose first len(keys)+1
// hops are known.  keys holds the packet keys of every hop but the last, in
// path order.  The filler is exactly the tail that real relay processing
// appends to beta, so the terminal hop's tag verifies.
func (s *Sphinx) generateFiller(keys []*crypto.PacketKeys) []byte {
	riLen := s.routingInfoLength()
	slotLen := s.slotLength()

	filler := make([]byte, 0, len(keys)*slotLen)
	for _, k := range keys {
		filler = append(filler, make([]byte, slotLen)...)

		ks := routingKeyStream(k, riLen+slotLen)
		utils.XorBytes(filler, filler, ks[len(ks)-len(filler):])
		utils.ExplicitBzero(ks)
	}
	return filler
}

// terminalRoutingInfo builds the last hop's beta: the END marker and zero
// padding encrypted under the last hop's routing key, with the filler in
// the region preceding hops will have shifted in.
func (s *Sphinx) terminalRoutingInfo(last *crypto.PacketKeys, terminalSlot, filler []byte) []byte {
	riLen := s.routingInfoLength()
	headLen := riLen - len(filler)

	ks := routingKeyStream(last, headLen)
	defer utils.ExplicitBzero(ks)

	beta := make([]byte, headLen, riLen)
	copy(beta, terminalSlot)
	utils.XorBytes(beta, beta, ks)
	return append(beta, filler...)
}
