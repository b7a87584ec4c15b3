// utils.go - Misc. utility routines.
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

// Package utils provides misc. byte slice and filesystem helpers shared by
// the header implementation and its tools.
package utils

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"runtime"
)

// ExplicitBzero explicitly clears out the buffer b, by filling it with 0x00
// bytes.
//
//go:noinline
func ExplicitBzero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// CtIsZero returns true iff the buffer b is all 0x00, doing the check in
// constant time.
func CtIsZero(b []byte) bool {
	var sum byte
	for _, v := range b {
		sum |= v
	}
	return subtle.ConstantTimeByteEq(sum, 0) == 1
}

// XorBytes sets dst[i] = a[i] ^ b[i].  All three slices MUST be the same
// length, anything else is a caller bug.
func XorBytes(dst, a, b []byte) {
	if len(a) != len(b) || len(a) != len(dst) {
		panic(fmt.Sprintf("utils: BUG: XorBytes called with mismatched buffer sizes, got %d, %d and %d", len(dst), len(a), len(b)))
	}
	subtle.XORBytes(dst, a, b)
}

// Exists returns true iff the file f exists.
func Exists(f string) bool {
	if _, err := os.Stat(f); err == nil {
		return true
	} else if errors.Is(err, os.ErrNotExist) {
		return false
	} else {
		panic(err)
	}
}

// BothExists returns true iff both files a and b exist.
func BothExists(a, b string) bool {
	return Exists(a) && Exists(b)
}

// BothNotExists returns true iff neither a nor b exist.
func BothNotExists(a, b string) bool {
	return !Exists(a) && !Exists(b)
}
