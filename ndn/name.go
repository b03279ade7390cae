// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package ndn declares the minimal NDN packet and engine abstractions
// the sync core depends on. Concrete transports, signing, and wire
// formats live in other packages (facewire, wire) and are never
// imported here, keeping this package the single seam between the
// protocol core and the outside world.
package ndn

import "strings"

// Name is a hierarchical NDN name, represented as an ordered list of
// generic path components. It intentionally does not model typed TLV
// name components (sequence numbers, versions, ...) since the sync
// core only ever appends opaque strings (digests, "00", "DISCOVERY",
// decimal session ids) onto a broadcast prefix.
type Name []string

// NameFromURI splits a "/"-delimited URI into a Name. A leading slash
// is optional; empty components are dropped so "/a//b" and "a/b" are
// equivalent, matching common NDN name parsers.
func NameFromURI(uri string) Name {
	parts := strings.Split(uri, "/")
	out := make(Name, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String renders the name back into its "/"-delimited URI form.
func (n Name) String() string {
	return "/" + strings.Join(n, "/")
}

// Append returns a new Name with the given components appended,
// leaving the receiver untouched.
func (n Name) Append(components ...string) Name {
	out := make(Name, 0, len(n)+len(components))
	out = append(out, n...)
	out = append(out, components...)
	return out
}

// IsPrefixOf reports whether n is a component-wise prefix of other.
func (n Name) IsPrefixOf(other Name) bool {
	if len(n) > len(other) {
		return false
	}
	for i := range n {
		if n[i] != other[i] {
			return false
		}
	}
	return true
}

// Equal reports exact component-wise equality.
func (n Name) Equal(other Name) bool {
	if len(n) != len(other) {
		return false
	}
	for i := range n {
		if n[i] != other[i] {
			return false
		}
	}
	return true
}

// At returns the component at the given depth, or "" if out of range.
func (n Name) At(i int) string {
	if i < 0 || i >= len(n) {
		return ""
	}
	return n[i]
}

// Clone returns a deep copy, so callers may retain it past further
// mutation of the original backing array.
func (n Name) Clone() Name {
	out := make(Name, len(n))
	copy(out, n)
	return out
}
