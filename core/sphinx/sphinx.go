// sphinx.go - Sphinx Packet Header Format.
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

// Package sphinx implements the fixed size, route length hiding Sphinx
// packet header: per-hop key derivation by blinding, the routing
// information transform, filler generation and integrity tags.
//
// Every operation is a pure function of its inputs and a Sphinx instance is
// immutable, so it is safe for concurrent use.
package sphinx

import (
	"fmt"

	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/sphinxheader/core/sphinx/constants"
	"github.com/katzenpost/sphinxheader/core/sphinx/geo"
	"github.com/katzenpost/sphinxheader/core/sphinx/internal/crypto"
)

const (
	// MACLength is the length of the header integrity tag in bytes.
	MACLength = crypto.MACLength

	// PayloadKeyLength is the length of the payload encryption key handed
	// to the payload layer.
	PayloadKeyLength = crypto.PayloadKeyLength

	// ReplayTagLength is the length of the replay tag in bytes.
	ReplayTagLength = crypto.HashLength
)

var defaultSphinx *Sphinx

// DefaultSphinx returns an instance of the default Sphinx header factory,
// X25519 with constants.DefaultNrHops hops.
func DefaultSphinx() *Sphinx {
	return defaultSphinx
}

// Sphinx is a modular implementation of the Sphinx packet header that has a
// pluggable NIKE, non-interactive key exchange.
type Sphinx struct {
	nike     nike.Scheme
	geometry *geo.Geometry
}

// NewSphinx creates a new instance of Sphinx for headers able to carry up to
// nrHops hops.
func NewSphinx(n nike.Scheme, nrHops int) *Sphinx {
	if nrHops < 1 {
		panic("sphinx: nrHops must be at least 1")
	}
	return &Sphinx{
		nike:     n,
		geometry: geo.GeometryFromNrHops(n, nrHops),
	}
}

// FromGeometry creates a new instance of Sphinx from a geometry, typically
// one loaded from a configuration file.
func FromGeometry(g *geo.Geometry) (*Sphinx, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("sphinx: %w", err)
	}
	return &Sphinx{
		nike:     g.Scheme(),
		geometry: g,
	}, nil
}

// Geometry returns the Sphinx header geometry.
func (s *Sphinx) Geometry() *geo.Geometry {
	return s.geometry
}

// NIKE returns the NIKE scheme used for the alpha field.
func (s *Sphinx) NIKE() nike.Scheme {
	return s.nike
}

func (s *Sphinx) routingInfoLength() int {
	return s.geometry.RoutingInfoLength
}

func (s *Sphinx) slotLength() int {
	return s.geometry.PerHopRoutingInfoLength
}

func init() {
	defaultSphinx = NewSphinx(x25519.Scheme(rand.Reader), constants.DefaultNrHops)
}
