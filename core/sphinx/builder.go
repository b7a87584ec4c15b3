// builder.go - Sphinx header construction.
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
	"io"

	"github.com/katzenpost/sphinxheader/core/sphinx/commands"
	"github.com/katzenpost/sphinxheader/core/sphinx/internal/crypto"
)

// NewHeader creates a new Sphinx header that routes through path, and
// returns the header and the per-hop shared secrets in path order.  The
// last hop of path is the terminal hop, and the header is always exactly
// Geometry().HeaderLength bytes regardless of the path length.
//
// All randomness is drawn from rng, so a deterministic reader yields a
// deterministic header.  The caller owns the returned secrets and should
// Reset them once the payload layer is done with them.
func (s *Sphinx) NewHeader(rng io.Reader, path []*PathHop) ([]byte, []SharedSecret, error) {
	if err := s.validatePath(path); err != nil {
		return nil, nil, err
	}
	nrHops := len(path)

	hops, err := s.deriveSenderKeys(rng, path)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		for _, h := range hops {
			h.keys.Reset()
		}
	}()

	keys := make([]*crypto.PacketKeys, 0, nrHops)
	for _, h := range hops {
		keys = append(keys, h.keys)
	}

	// The terminal hop: END marker, zero padding and the filler.
	filler := s.generateFiller(keys[:nrHops-1])
	beta := s.terminalRoutingInfo(keys[nrHops-1], commands.ToSlot(&commands.Deliver{}), filler)
	gamma := computeTag(keys[nrHops-1], beta)

	// Wrap every preceding hop around the one after it, working backward.
	for i := nrHops - 2; i >= 0; i-- {
		cmd := &commands.NextNodeHop{ID: path[i+1].ID}
		copy(cmd.MAC[:], gamma)
		beta = s.blindRoutingInfo(keys[i], commands.ToSlot(cmd), beta)
		gamma = computeTag(keys[i], beta)
	}

	hdr, err := s.NewHeaderFromFields(hops[0].alpha.Bytes(), beta, gamma)
	if err != nil {
		// Not reachable unless the geometry and the NIKE disagree.
		panic("sphinx: BUG: " + err.Error())
	}

	secrets := make([]SharedSecret, 0, nrHops)
	for _, h := range hops {
		secrets = append(secrets, h.secret)
	}
	return hdr.Bytes(), secrets, nil
}
