// path.go - Sphinx path hops.
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

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/nike"

	"github.com/katzenpost/sphinxheader/core/sphinx/constants"
)

// PathHop describes a hop that a Sphinx header will traverse.
type PathHop struct {
	// ID is the node identifier the preceding hop forwards to.
	ID [constants.NodeIDLength]byte

	// PublicKey is the hop's NIKE public key.
	PublicKey nike.PublicKey
}

// NodeIDFromPublicKey returns the node identifier of the relay holding the
// given public key, the BLAKE2b-256 digest of its binary encoding.
func NodeIDFromPublicKey(pk nike.PublicKey) [constants.NodeIDLength]byte {
	return hash.Sum256From(pk)
}

// NewPath returns a path through the relays holding the given public keys,
// with node identifiers derived by NodeIDFromPublicKey.
func NewPath(keys ...nike.PublicKey) []*PathHop {
	path := make([]*PathHop, 0, len(keys))
	for _, pk := range keys {
		path = append(path, &PathHop{
			ID:        NodeIDFromPublicKey(pk),
			PublicKey: pk,
		})
	}
	return path
}

func (s *Sphinx) validatePath(path []*PathHop) error {
	nrHops := len(path)
	if nrHops == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if nrHops > s.geometry.NrHops {
		return fmt.Errorf("%w: %d hops, maximum is %d", ErrCapacityExceeded, nrHops, s.geometry.NrHops)
	}
	for i, hop := range path {
		if hop == nil || hop.PublicKey == nil {
			return fmt.Errorf("%w: hop %d has no public key", ErrInvalidPath, i)
		}
		if l := len(hop.PublicKey.Bytes()); l != s.nike.PublicKeySize() {
			return fmt.Errorf("%w: hop %d public key is %d bytes", ErrInvalidPath, i, l)
		}
	}
	return nil
}
