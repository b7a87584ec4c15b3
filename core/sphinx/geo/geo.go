// SPDX-FileCopyrightText: Copyright (C) 2024 David Stainton
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package geo describes the geometry of a Sphinx packet header.
package geo

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/nike/schemes"

	"github.com/katzenpost/sphinxheader/core/sphinx/constants"
	"github.com/katzenpost/sphinxheader/core/sphinx/internal/crypto"
)

// Geometry describes the geometry of a Sphinx packet header.
type Geometry struct {

	// NrHops is the maximum number of hops, this indicates the size
	// of the routing information.
	NrHops int

	// HeaderLength is the length of the header in bytes.
	HeaderLength int

	// GroupElementLength is the length of the alpha field, the
	// encoded NIKE public key.
	GroupElementLength int

	// RoutingInfoLength is the length of the beta field.
	RoutingInfoLength int

	// PerHopRoutingInfoLength is the width of one routing info slot.
	PerHopRoutingInfoLength int

	// MACLength is the length of the gamma field.
	MACLength int

	// NodeIDLength is the node identifier length in bytes.
	NodeIDLength int

	// NIKEName is the name of the NIKE scheme used for the alpha field.
	NIKEName string
}

// Scheme returns the NIKE scheme named by the geometry, or nil.
func (g *Geometry) Scheme() nike.Scheme {
	return schemes.ByName(g.NIKEName)
}

func (g *Geometry) String() string {
	var b strings.Builder
	b.WriteString("sphinx_header_geometry:\n")
	b.WriteString(fmt.Sprintf("nike: %s\n", g.NIKEName))
	b.WriteString(fmt.Sprintf("number of hops: %d\n", g.NrHops))
	b.WriteString(fmt.Sprintf("header size: %d\n", g.HeaderLength))
	b.WriteString(fmt.Sprintf("group element size: %d\n", g.GroupElementLength))
	b.WriteString(fmt.Sprintf("routing info size: %d\n", g.RoutingInfoLength))
	b.WriteString(fmt.Sprintf("per hop routing info size: %d\n", g.PerHopRoutingInfoLength))
	b.WriteString(fmt.Sprintf("mac size: %d\n", g.MACLength))
	return b.String()
}

// Display returns the TOML encoding of the geometry.
func (g *Geometry) Display() string {
	buf := new(bytes.Buffer)
	encoder := toml.NewEncoder(buf)
	err := encoder.Encode(g)
	if err != nil {
		panic(err)
	}
	return buf.String()
}

// FromTOML decodes and validates a TOML encoded geometry.
func FromTOML(b []byte) (*Geometry, error) {
	g := new(Geometry)
	if err := toml.Unmarshal(b, g); err != nil {
		return nil, fmt.Errorf("geo: failed to decode geometry: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks that every derived length is consistent with the NIKE
// scheme and hop count.
func (g *Geometry) Validate() error {
	if g.NrHops < 1 {
		return errors.New("geo: NrHops must be at least 1")
	}
	s := g.Scheme()
	if s == nil {
		return fmt.Errorf("geo: unknown NIKE scheme '%s'", g.NIKEName)
	}
	want := GeometryFromNrHops(s, g.NrHops)
	if *want != *g {
		return fmt.Errorf("geo: inconsistent geometry, expected:\n%s", want)
	}
	return nil
}

type geometryFactory struct {
	nike   nike.Scheme
	nrHops int
}

func (f *geometryFactory) perHopRoutingInfoLength() int {
	// The next hop command is the largest, and only, non-terminal command.
	return 1 + constants.NodeIDLength + crypto.MACLength
}

func (f *geometryFactory) routingInfoLength() int {
	return f.perHopRoutingInfoLength() * f.nrHops
}

func (f *geometryFactory) headerLength() int {
	return f.nike.PublicKeySize() + f.routingInfoLength() + crypto.MACLength
}

// GeometryFromNrHops returns the geometry of a header able to carry paths of
// up to nrHops hops using the given NIKE scheme.
func GeometryFromNrHops(nike nike.Scheme, nrHops int) *Geometry {
	if nike == nil {
		panic("geo: nike can't be nil")
	}
	f := &geometryFactory{
		nike:   nike,
		nrHops: nrHops,
	}
	return &Geometry{
		NrHops:                  nrHops,
		HeaderLength:            f.headerLength(),
		GroupElementLength:      nike.PublicKeySize(),
		RoutingInfoLength:       f.routingInfoLength(),
		PerHopRoutingInfoLength: f.perHopRoutingInfoLength(),
		MACLength:               crypto.MACLength,
		NodeIDLength:            constants.NodeIDLength,
		NIKEName:                nike.Name(),
	}
}
