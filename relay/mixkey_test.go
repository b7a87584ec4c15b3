// mixkey_test.go - Relay key and replay filter tests.
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

package relay

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/hpqc/nike/pem"
	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/sphinxheader/core/sphinx"
)

func TestMixKeyReplay(t *testing.T) {
	require := require.New(t)

	cfg := newTestConfig(t, t.TempDir(), 1)
	cfg.Relay.ReplayFilterSize = 10
	k, err := NewMixKey(x25519.Scheme(rand.Reader), cfg.Relay)
	require.NoError(err)
	defer k.Close()

	require.Equal(sphinx.NodeIDFromPublicKey(k.PublicKey()), k.NodeID())

	var tag [sphinx.ReplayTagLength]byte
	isReplay, err := k.IsReplay(&tag)
	require.NoError(err)
	require.False(isReplay)
	isReplay, err = k.IsReplay(&tag)
	require.NoError(err)
	require.True(isReplay)

	// Fill the filter until it refuses new entries.
	for i := 0; i < 1<<16; i++ {
		_, err = rand.Reader.Read(tag[:])
		require.NoError(err)
		if isReplay, err = k.IsReplay(&tag); err != nil {
			break
		}
	}
	require.ErrorIs(err, ErrFilterFull)
	require.True(isReplay)
}

func TestLoadMixKey(t *testing.T) {
	require := require.New(t)

	dataDir := t.TempDir()
	cfg := newTestConfig(t, dataDir, 1)
	scheme := x25519.Scheme(rand.Reader)

	k, err := LoadMixKey(scheme, cfg.Relay)
	require.NoError(err)
	pub := k.PublicKey().Bytes()
	require.NoError(k.Close())
	require.Nil(k.PrivateKey())

	k, err = LoadMixKey(scheme, cfg.Relay)
	require.NoError(err)
	require.Equal(pub, k.PublicKey().Bytes())
	require.NoError(k.Close())

	// A lone key file is an error.
	require.NoError(os.Remove(cfg.Relay.Path(cfg.Relay.PublicKeyFile)))
	_, err = LoadMixKey(scheme, cfg.Relay)
	require.Error(err)

	// So is a mismatched pair.
	other, err := NewMixKey(scheme, cfg.Relay)
	require.NoError(err)
	require.NoError(os.WriteFile(cfg.Relay.Path(cfg.Relay.PublicKeyFile), pem.ToPublicPEMBytes(other.PublicKey(), scheme), 0600))
	_, err = LoadMixKey(scheme, cfg.Relay)
	require.Error(err)
}
