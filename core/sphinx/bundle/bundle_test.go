// bundle_test.go - CBOR bundle tests.
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

package bundle

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/sphinxheader/core/sphinx"
)

func TestSenderBundle(t *testing.T) {
	require := require.New(t)
	s := sphinx.NewSphinx(x25519.Scheme(rand.Reader), 3)

	pub1, priv1, err := s.NIKE().GenerateKeyPair()
	require.NoError(err)
	pub2, priv2, err := s.NIKE().GenerateKeyPair()
	require.NoError(err)

	hdr, secrets, err := s.NewHeader(rand.Reader, sphinx.NewPath(pub1, pub2))
	require.NoError(err)

	raw, err := NewSender(s, hdr, secrets).Marshal()
	require.NoError(err)

	b := new(Sender)
	require.NoError(b.Unmarshal(raw))
	require.Equal("x25519", b.NIKE)
	require.Equal(hdr, b.Header)
	require.Equal(secrets, b.SharedSecrets())

	// The outcome of processing the first hop names the second.
	res, err := s.ProcessHeader(priv1, b.Header)
	o := NewOutcome(res, err)
	require.True(o.IsForward())
	require.Equal(sphinx.NodeIDFromPublicKey(pub2), o.NextHop)

	raw, err = o.Marshal()
	require.NoError(err)
	o2 := new(Outcome)
	require.NoError(o2.Unmarshal(raw))
	require.Equal(o, o2)

	res, err = s.ProcessHeader(priv2, o2.Header)
	o = NewOutcome(res, err)
	require.Equal(sphinx.StateDeliverLocal.String(), o.State)
	require.Equal([]byte(secrets[1]), o.SharedSecret)
}

func TestOutcomeRejected(t *testing.T) {
	require := require.New(t)
	s := sphinx.NewSphinx(x25519.Scheme(rand.Reader), 3)

	_, priv, err := s.NIKE().GenerateKeyPair()
	require.NoError(err)

	res, err := s.ProcessHeader(priv, []byte("short"))
	o := NewOutcome(res, err)
	require.False(o.IsForward())
	require.Equal(sphinx.StateDroppedBadKey.String(), o.State)
	require.NotEmpty(o.Reason)
	require.Nil(o.Header)
}

func TestBundleVersion(t *testing.T) {
	require := require.New(t)

	raw, err := cbor.Marshal(&Sender{Version: Version + 1, Secrets: [][]byte{{1}}})
	require.NoError(err)
	require.ErrorIs(new(Sender).Unmarshal(raw), ErrVersionMismatch)

	raw, err = cbor.Marshal(&Sender{Version: Version})
	require.NoError(err)
	require.ErrorIs(new(Sender).Unmarshal(raw), ErrInvalidBundle)

	raw, err = cbor.Marshal(&Outcome{Version: Version + 1})
	require.NoError(err)
	require.ErrorIs(new(Outcome).Unmarshal(raw), ErrVersionMismatch)
}
