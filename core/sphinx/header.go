// header.go - Sphinx header codec.
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
)

// Header is a parsed Sphinx header.  The fields alias the buffer the header
// was parsed from.
type Header struct {
	// Alpha is the encoded NIKE group element.
	Alpha []byte

	// Beta is the encrypted routing information.
	Beta []byte

	// Gamma is the integrity tag over Beta.
	Gamma []byte
}

// ParseHeader splits b into its alpha, beta and gamma fields.  The widths
// are fixed by the geometry, b must be exactly HeaderLength bytes.
func (s *Sphinx) ParseHeader(b []byte) (*Header, error) {
	g := s.geometry
	if len(b) != g.HeaderLength {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrInvalidHeaderLength, len(b), g.HeaderLength)
	}

	betaOff := g.GroupElementLength
	gammaOff := betaOff + g.RoutingInfoLength
	return &Header{
		Alpha: b[:betaOff:betaOff],
		Beta:  b[betaOff:gammaOff:gammaOff],
		Gamma: b[gammaOff:],
	}, nil
}

// Bytes serializes the header to a freshly allocated buffer.
func (h *Header) Bytes() []byte {
	b := make([]byte, 0, len(h.Alpha)+len(h.Beta)+len(h.Gamma))
	b = append(b, h.Alpha...)
	b = append(b, h.Beta...)
	b = append(b, h.Gamma...)
	return b
}

func (s *Sphinx) checkFieldWidths(alpha, beta, gamma []byte) error {
	g := s.geometry
	switch {
	case len(alpha) != g.GroupElementLength:
		return fmt.Errorf("%w: alpha is %d bytes", ErrMalformedInput, len(alpha))
	case len(beta) != g.RoutingInfoLength:
		return fmt.Errorf("%w: beta is %d bytes", ErrMalformedInput, len(beta))
	case len(gamma) != g.MACLength:
		return fmt.Errorf("%w: gamma is %d bytes", ErrMalformedInput, len(gamma))
	}
	return nil
}

// NewHeaderFromFields assembles a header from its fields, checking that
// each field has the width the geometry requires.
func (s *Sphinx) NewHeaderFromFields(alpha, beta, gamma []byte) (*Header, error) {
	if err := s.checkFieldWidths(alpha, beta, gamma); err != nil {
		return nil, err
	}
	return &Header{
		Alpha: alpha,
		Beta:  beta,
		Gamma: gamma,
	}, nil
}
