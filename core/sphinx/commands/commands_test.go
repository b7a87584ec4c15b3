// commands_test.go - Per-hop routing info command tests.
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

package commands

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextNodeHop(t *testing.T) {
	require := require.New(t)

	cmd := new(NextNodeHop)
	_, err := rand.Read(cmd.ID[:])
	require.NoError(err, "failed to generate ID")
	_, err = rand.Read(cmd.MAC[:])
	require.NoError(err, "failed to generate MAC")

	slot := ToSlot(cmd)
	require.Len(slot, SlotLength, "NextNodeHop: slot length")
	require.Equal(byte(nextNodeHop), slot[0])

	c, err := FromBytes(slot)
	require.NoError(err, "NextNodeHop: FromBytes() failed")
	require.IsType(cmd, c, "NextNodeHop: FromBytes() invalid type")
	require.Equal(cmd, c, "NextNodeHop: FromBytes() mismatch")
}

func TestDeliver(t *testing.T) {
	require := require.New(t)

	slot := ToSlot(&Deliver{})
	require.Equal(make([]byte, SlotLength), slot, "Deliver: END marker is all zeros")

	c, err := FromBytes(slot)
	require.NoError(err)
	require.IsType(&Deliver{}, c)

	// Trailing garbage after the END marker is rejected.
	slot[SlotLength-1] = 0x01
	_, err = FromBytes(slot)
	require.ErrorIs(err, ErrInvalidCommand)
}

func TestInvalidCommands(t *testing.T) {
	require := require.New(t)

	_, err := FromBytes(nil)
	require.ErrorIs(err, ErrInvalidCommand)

	_, err = FromBytes(make([]byte, SlotLength-1))
	require.ErrorIs(err, ErrInvalidCommand)

	slot := make([]byte, SlotLength)
	slot[0] = 0x7f
	_, err = FromBytes(slot)
	require.ErrorIs(err, ErrInvalidCommand)
}
