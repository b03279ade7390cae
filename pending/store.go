// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package pending implements the time-indexed store of sync interests
// the engine could not immediately answer. It has no internal locking:
// all access is confined to the engine's single event-loop thread.
package pending

import (
	"time"

	"github.com/WU-ARL/ICTSync/ndn"
)

// Entry is a parked interest.
type Entry struct {
	Interest  *ndn.Interest
	ArrivalMs int64
	ExpiryMs  int64 // 0 means never expires
}

func (e Entry) expired(nowMs int64) bool {
	return e.ExpiryMs != 0 && nowMs >= e.ExpiryMs
}

// Store holds parked interests in arrival order. Expiry is lazy: it is
// only evaluated during WithPrefix/ForName calls, never by a
// background goroutine.
type Store struct {
	entries []Entry
	now     func() time.Time
}

// New returns an empty Store. nowFn defaults to time.Now and is
// overridable for deterministic tests.
func New(nowFn func() time.Time) *Store {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Store{now: nowFn}
}

// Store parks interest, computing its expiry from interest.Lifetime.
// A zero or negative lifetime never expires.
func (s *Store) Store(interest *ndn.Interest) {
	arrival := s.now().UnixMilli()
	expiry := int64(0)
	if interest.Lifetime > 0 {
		expiry = arrival + interest.Lifetime.Milliseconds()
	}
	s.entries = append(s.entries, Entry{Interest: interest, ArrivalMs: arrival, ExpiryMs: expiry})
}

// WithPrefix removes every expired entry, then returns (and optionally
// removes) every survivor whose interest name starts with prefix.
// Entries are rebuilt in place so evaluation order stays
// deterministic.
func (s *Store) WithPrefix(prefix ndn.Name, remove bool) []Entry {
	return s.collect(remove, func(e Entry) bool {
		return prefix.IsPrefixOf(e.Interest.Name)
	})
}

// ForName removes every expired entry, then returns (and optionally
// removes) every survivor whose interest name exactly matches name.
func (s *Store) ForName(name ndn.Name, remove bool) []Entry {
	return s.collect(remove, func(e Entry) bool {
		return e.Interest.Name.Equal(name)
	})
}

func (s *Store) collect(remove bool, match func(Entry) bool) []Entry {
	now := s.now().UnixMilli()
	var matched []Entry
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.expired(now) {
			continue
		}
		if match(e) {
			matched = append(matched, e)
			if remove {
				continue
			}
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return matched
}

// Len reports how many entries are currently stored, including any
// not-yet-lazily-expired ones. Exposed for tests and metrics only.
func (s *Store) Len() int { return len(s.entries) }
