// bundle.go - CBOR bundles of header construction and processing output.
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

// Package bundle provides CBOR serialization of the values the header layer
// hands to its collaborators: the sender's header and per-hop shared
// secrets, and the outcome of a relay processing a header.
package bundle

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/sphinxheader/core/sphinx"
	"github.com/katzenpost/sphinxheader/core/sphinx/constants"
)

// Version is the bundle format version.
const Version = 0

var (
	// ErrVersionMismatch indicates that the bundle is the wrong format
	// version.
	ErrVersionMismatch = errors.New("bundle: version mismatch")

	// ErrInvalidBundle indicates that the bundle is internally inconsistent.
	ErrInvalidBundle = errors.New("bundle: invalid bundle")

	// Create reusable EncMode interface with immutable options, safe for concurrent use.
	ccbor cbor.EncMode
)

// Sender is the output of header construction: the header and the shared
// secret of every hop, in path order.
type Sender struct {
	Version uint32

	// NIKE is the name of the NIKE scheme the header was built with.
	NIKE string

	// Header is the serialized Sphinx header.
	Header []byte

	// Secrets are the per-hop shared secrets.
	Secrets [][]byte
}

// NewSender creates a sender bundle.
func NewSender(s *sphinx.Sphinx, hdr []byte, secrets []sphinx.SharedSecret) *Sender {
	b := &Sender{
		Version: Version,
		NIKE:    s.NIKE().Name(),
		Header:  hdr,
		Secrets: make([][]byte, 0, len(secrets)),
	}
	for _, secret := range secrets {
		b.Secrets = append(b.Secrets, secret)
	}
	return b
}

// SharedSecrets returns the per-hop shared secrets.
func (b *Sender) SharedSecrets() []sphinx.SharedSecret {
	secrets := make([]sphinx.SharedSecret, 0, len(b.Secrets))
	for _, secret := range b.Secrets {
		secrets = append(secrets, secret)
	}
	return secrets
}

// Marshal serializes a Sender bundle.
func (b *Sender) Marshal() ([]byte, error) {
	return ccbor.Marshal(b)
}

// Unmarshal deserializes a Sender bundle.
func (b *Sender) Unmarshal(raw []byte) error {
	if err := cbor.Unmarshal(raw, b); err != nil {
		return err
	}
	if b.Version != Version {
		return ErrVersionMismatch
	}
	if len(b.Secrets) == 0 {
		return fmt.Errorf("%w: no shared secrets", ErrInvalidBundle)
	}
	return nil
}

// Outcome is the result of a relay processing a header.
type Outcome struct {
	Version uint32

	// State is the name of the terminal state the header reached.
	State string

	// NextHop is the node the header is forwarded to.
	NextHop [constants.NodeIDLength]byte `cbor:",omitempty"`

	// Header is the transformed header to forward.
	Header []byte `cbor:",omitempty"`

	// SharedSecret is the terminal hop's shared secret.
	SharedSecret []byte `cbor:",omitempty"`

	// ReplayTag identifies the processed header.
	ReplayTag [sphinx.ReplayTagLength]byte `cbor:",omitempty"`

	// Reason is the reason a header was dropped.
	Reason string `cbor:",omitempty"`
}

// NewOutcome creates an outcome from the return values of ProcessHeader.
// The outcome holds a copy of the shared secret, res may be Reset.
func NewOutcome(res *sphinx.Result, err error) *Outcome {
	o := &Outcome{
		Version: Version,
	}
	if err != nil {
		var rejectErr *sphinx.RejectError
		if errors.As(err, &rejectErr) {
			o.State = rejectErr.State.String()
			o.Reason = rejectErr.Reason.Error()
		} else {
			o.State = sphinx.StateReceived.String()
			o.Reason = err.Error()
		}
		return o
	}

	o.State = res.State.String()
	o.NextHop = res.NextHop
	o.Header = res.Header
	if res.SharedSecret != nil {
		o.SharedSecret = append([]byte{}, res.SharedSecret...)
	}
	o.ReplayTag = res.ReplayTag
	return o
}

// IsForward returns true iff the header is to be forwarded.
func (o *Outcome) IsForward() bool {
	return o.State == sphinx.StateForward.String()
}

// Marshal serializes an Outcome.
func (o *Outcome) Marshal() ([]byte, error) {
	return ccbor.Marshal(o)
}

// Unmarshal deserializes an Outcome.
func (o *Outcome) Unmarshal(raw []byte) error {
	if err := cbor.Unmarshal(raw, o); err != nil {
		return err
	}
	if o.Version != Version {
		return ErrVersionMismatch
	}
	return nil
}

func init() {
	var err error
	opts := cbor.CanonicalEncOptions()
	ccbor, err = opts.EncMode()
	if err != nil {
		panic(err)
	}
}
