// state.go - Header processing states.
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

// State is a state of the per-relay header processing machine:
//
//	Received -> KeyDerived -> Verified -> Unblinded -> {Forward | DeliverLocal}
//
// with the terminal failure states DroppedBadKey, DroppedBadTag and
// DroppedBadCommand.
type State int

const (
	StateReceived State = iota
	StateKeyDerived
	StateVerified
	StateUnblinded
	StateForward
	StateDeliverLocal
	StateDroppedBadKey
	StateDroppedBadTag
	StateDroppedBadCommand
)

var stateNames = [...]string{
	StateReceived:          "RECEIVED",
	StateKeyDerived:        "KEY_DERIVED",
	StateVerified:          "VERIFIED",
	StateUnblinded:         "UNBLINDED",
	StateForward:           "FORWARD",
	StateDeliverLocal:      "DELIVER_LOCAL",
	StateDroppedBadKey:     "DROPPED_BAD_KEY",
	StateDroppedBadTag:     "DROPPED_BAD_TAG",
	StateDroppedBadCommand: "DROPPED_BAD_COMMAND",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// IsTerminal returns true iff no further transition leaves s.
func (s State) IsTerminal() bool {
	return s >= StateForward
}

// IsDropped returns true iff s is a terminal failure state.
func (s State) IsDropped() bool {
	return s >= StateDroppedBadKey
}
