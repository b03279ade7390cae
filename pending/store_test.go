// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package pending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WU-ARL/ICTSync/ndn"
)

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStoreAndForNameExactMatch(t *testing.T) {
	s := New(clockAt(time.Unix(1000, 0)))
	s.Store(&ndn.Interest{Name: ndn.NameFromURI("/sync/root/00"), Lifetime: time.Minute})
	s.Store(&ndn.Interest{Name: ndn.NameFromURI("/sync/other"), Lifetime: time.Minute})

	got := s.ForName(ndn.NameFromURI("/sync/root/00"), false)
	require.Len(t, got, 1)
	assert.Equal(t, 2, s.Len(), "non-removing lookup keeps both entries")
}

func TestForNameRemoves(t *testing.T) {
	s := New(clockAt(time.Unix(1000, 0)))
	s.Store(&ndn.Interest{Name: ndn.NameFromURI("/sync/root/00"), Lifetime: time.Minute})

	got := s.ForName(ndn.NameFromURI("/sync/root/00"), true)
	require.Len(t, got, 1)
	assert.Equal(t, 0, s.Len())
}

func TestWithPrefixMatchesAndRemoves(t *testing.T) {
	s := New(clockAt(time.Unix(1000, 0)))
	s.Store(&ndn.Interest{Name: ndn.NameFromURI("/sync/root/00"), Lifetime: time.Minute})
	s.Store(&ndn.Interest{Name: ndn.NameFromURI("/sync/root/deadbeef"), Lifetime: time.Minute})
	s.Store(&ndn.Interest{Name: ndn.NameFromURI("/other/prefix"), Lifetime: time.Minute})

	got := s.WithPrefix(ndn.NameFromURI("/sync/root"), true)
	require.Len(t, got, 2)
	assert.Equal(t, 1, s.Len())
}

func TestZeroLifetimeNeverExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	s := New(clockAt(now))
	s.Store(&ndn.Interest{Name: ndn.NameFromURI("/never"), Lifetime: 0})

	later := clockAt(now.Add(24 * time.Hour))
	s.now = later
	got := s.ForName(ndn.NameFromURI("/never"), false)
	assert.Len(t, got, 1)
}

func TestExpiredEntryIsLazilyDropped(t *testing.T) {
	now := time.Unix(1000, 0)
	s := New(clockAt(now))
	s.Store(&ndn.Interest{Name: ndn.NameFromURI("/short"), Lifetime: time.Second})

	s.now = clockAt(now.Add(5 * time.Second))
	got := s.ForName(ndn.NameFromURI("/short"), false)
	assert.Empty(t, got)
	assert.Equal(t, 0, s.Len(), "expired entry is purged on access even though it did not match")
}

func TestExpiryIsEvaluatedOnEveryAccessNotJustMatches(t *testing.T) {
	now := time.Unix(1000, 0)
	s := New(clockAt(now))
	s.Store(&ndn.Interest{Name: ndn.NameFromURI("/a"), Lifetime: time.Second})
	s.Store(&ndn.Interest{Name: ndn.NameFromURI("/b"), Lifetime: time.Minute})

	s.now = clockAt(now.Add(5 * time.Second))
	got := s.ForName(ndn.NameFromURI("/b"), false)
	require.Len(t, got, 1)
	assert.Equal(t, 1, s.Len(), "/a expired and was purged, /b survives")
}
