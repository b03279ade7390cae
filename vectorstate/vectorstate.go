// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package vectorstate implements the replicated (data-prefix,
// session-id) -> sequence-number table that every sync participant
// keeps. The root digest is a literal concatenation of per-entry
// digest strings, not a cryptographic hash, so it can be parsed back
// apart during Diff; peers depend on that exact wire form.
package vectorstate

import (
	"fmt"
	"sort"
)

// SessionEntry is one row of the table: one producer incarnation and
// the latest sequence number observed from it.
type SessionEntry struct {
	DataPrefix string
	SessionID  uint32
	SequenceNo uint32
	UserDigest string
}

func newEntry(dataPrefix string, sessionID, sequenceNo uint32) SessionEntry {
	e := SessionEntry{DataPrefix: dataPrefix, SessionID: sessionID, SequenceNo: sequenceNo}
	e.UserDigest = digestFor(sessionID, sequenceNo)
	return e
}

func digestFor(sessionID, sequenceNo uint32) string {
	return fmt.Sprintf("%d,%d;", sessionID, sequenceNo)
}

// less orders entries by (DataPrefix, SessionID).
func less(a, b SessionEntry) bool {
	if a.DataPrefix != b.DataPrefix {
		return a.DataPrefix < b.DataPrefix
	}
	return a.SessionID < b.SessionID
}

// VectorState is the per-participant replicated table. The zero value
// is not usable; construct with New.
type VectorState struct {
	entries []SessionEntry
	root    string
}

// New returns an empty table with the initial root "00".
func New() *VectorState {
	return &VectorState{root: "00"}
}

// Update sets (dataPrefix, sessionID)'s sequence number to sequenceNo
// if that is strictly greater than what is on file, inserting a new
// sorted entry if the pair is unseen. Returns whether a mutation
// occurred.
func (v *VectorState) Update(dataPrefix string, sessionID, sequenceNo uint32) bool {
	if idx := v.findByPrefixAndSession(dataPrefix, sessionID); idx >= 0 {
		if v.entries[idx].SequenceNo >= sequenceNo {
			return false
		}
		v.entries[idx].SequenceNo = sequenceNo
		v.entries[idx].UserDigest = digestFor(sessionID, sequenceNo)
	} else {
		entry := newEntry(dataPrefix, sessionID, sequenceNo)
		pos := sort.Search(len(v.entries), func(i int) bool {
			return !less(v.entries[i], entry)
		})
		v.entries = append(v.entries, SessionEntry{})
		copy(v.entries[pos+1:], v.entries[pos:])
		v.entries[pos] = entry
	}
	v.recomputeRoot()
	return true
}

func (v *VectorState) recomputeRoot() {
	root := ""
	for _, e := range v.entries {
		root += e.UserDigest
	}
	v.root = root
}

// findByPrefixAndSession returns the index of the unique entry for
// (dataPrefix, sessionID), or -1. Linear scan; the table is small and
// duplicates cannot exist.
func (v *VectorState) findByPrefixAndSession(dataPrefix string, sessionID uint32) int {
	for i, e := range v.entries {
		if e.DataPrefix == dataPrefix && e.SessionID == sessionID {
			return i
		}
	}
	return -1
}

// Find returns the index of (dataPrefix, sessionID), or -1.
//
// The returned index is a plain slice offset: any later Update call
// invalidates it, so it must not be retained across one.
func (v *VectorState) Find(dataPrefix string, sessionID uint32) int {
	return v.findByPrefixAndSession(dataPrefix, sessionID)
}

// FindSession returns the index of the first entry with the given
// session id, or -1. Session ids are assumed unique across producers;
// ambiguity is a caller error.
func (v *VectorState) FindSession(sessionID uint32) int {
	for i, e := range v.entries {
		if e.SessionID == sessionID {
			return i
		}
	}
	return -1
}

// SessionName returns the data prefix owning sessionID, or "".
func (v *VectorState) SessionName(sessionID uint32) string {
	if idx := v.FindSession(sessionID); idx >= 0 {
		return v.entries[idx].DataPrefix
	}
	return ""
}

// Size returns the number of entries.
func (v *VectorState) Size() int { return len(v.entries) }

// Get returns a copy of the entry at index i. Panics if i is out of
// range.
func (v *VectorState) Get(i int) SessionEntry { return v.entries[i] }

// VectorRoot returns the current digest, the literal concatenation of
// every entry's UserDigest in table order.
func (v *VectorState) VectorRoot() string { return v.root }
