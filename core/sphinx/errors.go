// errors.go - Sphinx header errors.
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
	"errors"
	"fmt"

	"github.com/katzenpost/sphinxheader/core/sphinx/commands"
)

var (
	// ErrMalformedInput is the class of errors caused by a field of the
	// wrong width or an invalid group element encoding.
	ErrMalformedInput = errors.New("sphinx: malformed input")

	// ErrAuthenticationFailure is returned when the integrity tag does not
	// match.  Relays drop such packets silently.
	ErrAuthenticationFailure = errors.New("sphinx: authentication failure")

	// ErrCapacityExceeded is returned when a path is longer than the header
	// can carry.
	ErrCapacityExceeded = errors.New("sphinx: path exceeds header capacity")

	// ErrInvalidPath is returned for an empty path or a path hop without a
	// usable public key.
	ErrInvalidPath = errors.New("sphinx: invalid path")

	// ErrInvalidHeaderLength is returned when a header is not exactly
	// Geometry.HeaderLength bytes.
	ErrInvalidHeaderLength = fmt.Errorf("%w: invalid header length", ErrMalformedInput)

	// ErrInvalidGroupElement is returned when alpha is not a valid group
	// element, or yields a degenerate shared secret.
	ErrInvalidGroupElement = fmt.Errorf("%w: invalid group element", ErrMalformedInput)

	// ErrInvalidCommand is returned when an authenticated slot does not
	// hold a known command.
	ErrInvalidCommand = fmt.Errorf("%w: %w", ErrMalformedInput, commands.ErrInvalidCommand)
)

// RejectError is returned by ProcessHeader when a header is dropped.  State
// is the terminal failure state the header reached.
type RejectError struct {
	State  State
	Reason error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%v (%s)", e.Reason, e.State)
}

func (e *RejectError) Unwrap() error {
	return e.Reason
}

func reject(state State, reason error) *RejectError {
	return &RejectError{
		State:  state,
		Reason: reason,
	}
}
