// constants.go - Sphinx header constants.
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

// Package constants contains the Sphinx header constants.
package constants

const (
	// NodeIDLength is the node identifier length in bytes.
	NodeIDLength = 32

	// DefaultNrHops is the number of hops a header is sized for unless
	// configured otherwise.
	DefaultNrHops = 5

	// DefaultNIKE is the name of the default NIKE scheme.
	DefaultNIKE = "x25519"
)
