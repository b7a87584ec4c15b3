// commands.go - Per-hop routing info commands.
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

// Package commands implements the packing of the per-hop routing info slot.
//
// A slot is exactly NextNodeHopLength bytes.  The first byte identifies the
// command, the rest is the command body followed by zero padding.
package commands

import (
	"errors"

	"github.com/katzenpost/sphinxheader/core/sphinx/constants"
	"github.com/katzenpost/sphinxheader/core/sphinx/internal/crypto"
	"github.com/katzenpost/sphinxheader/core/utils"
)

const (
	// deliver is the END marker: the packet terminates at this hop.
	deliver     commandID = 0x00
	nextNodeHop commandID = 0x01

	// NextNodeHopLength is the length of a serialized NextNodeHop command,
	// which is the largest command and therefore the slot width.
	NextNodeHopLength = 1 + constants.NodeIDLength + crypto.MACLength

	// SlotLength is the width of one per-hop routing info slot.
	SlotLength = NextNodeHopLength
)

// ErrInvalidCommand is returned when a slot does not hold a well formed
// command.
var ErrInvalidCommand = errors.New("sphinx: invalid per-hop command")

type commandID byte

// RoutingCommand is the common interface exposed by all per-hop routing
// command structures.
type RoutingCommand interface {
	// ToBytes appends the serialized command to slice b, and returns the
	// resulting slice.
	ToBytes(b []byte) []byte
}

// FromBytes deserializes the command held by slot b.
func FromBytes(b []byte) (RoutingCommand, error) {
	if len(b) != SlotLength {
		return nil, ErrInvalidCommand
	}

	switch commandID(b[0]) {
	case deliver:
		// The END marker, like the terminal null command, must be followed
		// by nothing but zeros.
		if !utils.CtIsZero(b[1:]) {
			return nil, ErrInvalidCommand
		}
		return &Deliver{}, nil
	case nextNodeHop:
		r := new(NextNodeHop)
		copy(r.ID[:], b[1:1+constants.NodeIDLength])
		copy(r.MAC[:], b[1+constants.NodeIDLength:])
		return r, nil
	default:
		return nil, ErrInvalidCommand
	}
}

// ToSlot serializes cmd into a zero padded slot.
func ToSlot(cmd RoutingCommand) []byte {
	b := cmd.ToBytes(make([]byte, 0, SlotLength))
	if len(b) < SlotLength {
		b = append(b, make([]byte, SlotLength-len(b))...)
	}
	return b
}

// NextNodeHop instructs a relay to forward the packet to ID, presenting MAC
// as the next header's integrity tag.
type NextNodeHop struct {
	ID  [constants.NodeIDLength]byte
	MAC [crypto.MACLength]byte
}

// ToBytes appends the serialized NextNodeHop to slice b, and returns the
// resulting slice.
func (cmd *NextNodeHop) ToBytes(b []byte) []byte {
	b = append(b, byte(nextNodeHop))
	b = append(b, cmd.ID[:]...)
	b = append(b, cmd.MAC[:]...)
	return b
}

// Deliver is the END marker, the packet is delivered locally.
type Deliver struct{}

// ToBytes appends the serialized Deliver to slice b, and returns the
// resulting slice.
func (cmd *Deliver) ToBytes(b []byte) []byte {
	return append(b, byte(deliver))
}
