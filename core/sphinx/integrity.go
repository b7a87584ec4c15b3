// integrity.go - Sphinx header integrity tags.
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
)

// computeTag returns the integrity tag over the routing information.  The
// tag covers beta only, alpha is bound by the key derivation.
func computeTag(keys *crypto.PacketKeys, beta []byte) []byte {
	m := crypto.NewMAC(&keys.HeaderMAC)
	m.Write(beta)
	return m.Sum(nil)
}

// verifyTag recomputes the tag over beta and compares it with gamma in
// constant time.
func verifyTag(keys *crypto.PacketKeys, beta, gamma []byte) bool {
	return crypto.MACEqual(computeTag(keys, beta), gamma)
}
