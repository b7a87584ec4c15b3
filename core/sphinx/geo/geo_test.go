// SPDX-FileCopyrightText: Copyright (C) 2024 David Stainton
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"fmt"
	"testing"

	"github.com/schwarmco/go-cartesian-product"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/hpqc/nike/schemes"
)

func TestGeometryX25519(t *testing.T) {
	require := require.New(t)

	g := GeometryFromNrHops(schemes.ByName("x25519"), 5)
	require.Equal(65, g.PerHopRoutingInfoLength)
	require.Equal(5*65, g.RoutingInfoLength)
	require.Equal(32+5*65+32, g.HeaderLength)
	require.NoError(g.Validate())
	t.Logf("%s", g)
}

func TestGeometryTOMLRoundTrip(t *testing.T) {
	require := require.New(t)

	g := GeometryFromNrHops(schemes.ByName("x448"), 7)
	g2, err := FromTOML([]byte(g.Display()))
	require.NoError(err)
	require.Equal(g, g2)
}

func TestGeometryValidate(t *testing.T) {
	require := require.New(t)

	g := GeometryFromNrHops(schemes.ByName("x25519"), 3)
	g.RoutingInfoLength++
	require.Error(g.Validate())

	g = GeometryFromNrHops(schemes.ByName("x25519"), 3)
	g.NIKEName = "not-a-nike"
	require.Error(g.Validate())

	g = GeometryFromNrHops(schemes.ByName("x25519"), 3)
	g.NrHops = 0
	require.Error(g.Validate())

	_, err := FromTOML([]byte("NrHops = \"five\""))
	require.Error(err)
}

func TestGeometryCartesianProduct(t *testing.T) {
	nikeNames := []interface{}{"x25519", "x448"}
	nrHops := []interface{}{1, 3, 5, 10, 22}

	for product := range cartesian.Iter(nikeNames, nrHops) {
		name := product[0].(string)
		hops := product[1].(int)
		t.Run(fmt.Sprintf("%s/%d", name, hops), func(t *testing.T) {
			scheme := schemes.ByName(name)
			require.NotNil(t, scheme)
			g := GeometryFromNrHops(scheme, hops)
			require.Equal(t, scheme.PublicKeySize()+g.RoutingInfoLength+g.MACLength, g.HeaderLength)
			require.NoError(t, g.Validate())
		})
	}
}
