// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package sync

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WU-ARL/ICTSync/ndn"
	"github.com/WU-ARL/ICTSync/status"
	"github.com/WU-ARL/ICTSync/vectorstate"
	"github.com/WU-ARL/ICTSync/wire"
)

var broadcastPrefix = ndn.NameFromURI("/broadcast")

func newTestEngine(t *testing.T, bus *fakeBus, dataPrefix string, sessionID uint32) (*Engine, *fakeFace, *[]SyncState, *int) {
	t.Helper()
	face := newFakeFace(bus)
	received := new([]SyncState)
	initialized := new(int)
	cfg := Config{
		OwnDataPrefix:          dataPrefix,
		OwnSessionID:           sessionID,
		BroadcastPrefix:        broadcastPrefix,
		Face:                   face,
		KeyChain:               fakeKeyChain{},
		SyncLifetime:           time.Second,
		PreviousSequenceNumber: -1,
		OnReceivedSyncState: func(updates []SyncState, isRecovery bool) {
			*received = append(*received, updates...)
		},
		OnInitialized: func() { *initialized++ },
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e, face, received, initialized
}

// No peers respond to "00"; engine self-inserts at previous+1.
func TestInitialTimeoutSelfInserts(t *testing.T) {
	bus := newFakeBus()
	e, face, _, initialized := newTestEngine(t, bus, "/a", 1)

	require.NoError(t, e.Start())
	bus.Drain()
	require.True(t, bus.hasOutstanding(broadcastPrefix.Append("00").String()))

	bus.timeoutInterest(broadcastPrefix.Append("00").String())
	bus.Drain()

	assert.Equal(t, 1, *initialized)
	seq, ok := e.SequenceNo("/a", 1)
	require.True(t, ok)
	assert.Equal(t, uint32(0), seq)
	assert.Equal(t, "1,0;", e.vector.VectorRoot())

	// The post-timeout sync interest carries the non-"00" root.
	wantName := broadcastPrefix.Append(vectorstate.Escape("1,0;")).String()
	assert.True(t, bus.hasOutstanding(wantName))
	_ = face
}

// Two participants converge from empty state after A publishes. A's
// first sync interest for its own fresh digest reaches B before B has
// finished bootstrapping off that same publish, so it goes unanswered;
// a timeout-driven retry is what actually completes convergence, same
// as it would on a real, asynchronous network.
func TestNewcomerBootstrapTwoParticipants(t *testing.T) {
	bus := newFakeBus()
	a, _, receivedA, initA := newTestEngine(t, bus, "/a", 1)
	b, _, receivedB, initB := newTestEngine(t, bus, "/b", 2)

	require.NoError(t, a.Start())
	bus.Drain()
	require.NoError(t, b.Start())
	bus.Drain()

	require.NoError(t, a.Publish(nil))
	bus.Drain()

	// B has since self-inserted and moved on; A's original request is
	// still parked waiting for an answer B couldn't give at the time.
	require.Equal(t, "1,1;2,0;", b.vector.VectorRoot())
	firstRequestName := broadcastPrefix.Append(vectorstate.Escape("1,1;")).String()
	require.True(t, bus.hasOutstanding(firstRequestName))

	bus.timeoutInterest(firstRequestName)
	bus.Drain()

	assert.Equal(t, "1,1;2,0;", a.vector.VectorRoot())
	assert.Equal(t, "1,1;2,0;", b.vector.VectorRoot())
	assert.Equal(t, 1, *initA, "A bootstraps via initial timeout path once it gives up on peers")
	assert.GreaterOrEqual(t, *initB, 1)
	assert.NotEmpty(t, *receivedB)
	assert.NotEmpty(t, *receivedA)
}

// Missed update: a sync interest from B that is one publish behind on
// A's session diffs at A to a single positive entry B must learn.
func TestMissedUpdateSendsPositiveDiff(t *testing.T) {
	bus := newFakeBus()
	a, _, _, _ := newTestEngine(t, bus, "/a", 1)
	b, bFace, receivedB, _ := newTestEngine(t, bus, "/b", 2)

	require.NoError(t, a.Start())
	bus.Drain()
	require.NoError(t, b.Start())
	bus.Drain()
	require.NoError(t, a.Publish(nil)) // a: seq 1; B bootstraps from it and self-inserts at seq 0
	bus.Drain()

	// B now knows {a:1, b:0}. Advance A once more so A is ahead of what
	// B will claim to know, then hand-craft a "stale" sync interest
	// carrying B's digest from before that publish, to exercise the
	// diff->positive path independent of normal re-expression timing.
	require.NoError(t, a.Publish(nil)) // a: seq 2
	bus.Drain()

	staleDigest := "1,1;2,0;"
	name := broadcastPrefix.Append(staleDigest)
	var gotData *ndn.Data
	_, err := bFace.ExpressInterest(&ndn.Interest{Name: name, Lifetime: time.Second}, func(result ndn.InterestResult, data *ndn.Data) {
		if result == ndn.ResultData {
			gotData = data
		}
	})
	require.NoError(t, err)
	bus.Drain()

	require.NotNil(t, gotData, "A should answer the stale digest with its positive diff")
	msg, err := wire.Parse(gotData.Content)
	require.NoError(t, err)
	require.Len(t, msg.States, 1)
	assert.Equal(t, uint32(1), msg.States[0].Session)
	assert.Equal(t, uint32(2), msg.States[0].Seq)
	_ = receivedB
}

// Discovery mode dedups a repeated unknown session and resolves it
// exactly once via a DISCOVERY exchange.
func TestDiscoveryResolvesUnknownSessionOnce(t *testing.T) {
	bus := newFakeBus()
	aFace := newFakeFace(bus)
	aCfg := Config{
		OwnDataPrefix:          "/a",
		OwnSessionID:           1,
		BroadcastPrefix:        broadcastPrefix,
		Face:                   aFace,
		KeyChain:               fakeKeyChain{},
		SyncLifetime:           time.Second,
		PreviousSequenceNumber: -1,
		IsDiscovery:            true,
	}
	a, err := New(aCfg)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	bus.Drain()
	bus.timeoutInterest(broadcastPrefix.Append("00").String())
	bus.Drain() // a self-inserts: root "1,0;"

	// A producer "c" (session 7) that A has never heard of answers
	// DISCOVERY queries directly (standing in for a third participant).
	// It holds its answer until the test releases it, so the lookup
	// stays in flight across the repeated unknown entry below.
	var answerC func()
	cFace := newFakeFace(bus)
	_, err = cFace.SetInterestFilter(broadcastPrefix, func(interest *ndn.Interest, reply ndn.ReplyFunc) {
		tail := interest.Name[len(broadcastPrefix):]
		if len(tail) == 2 && tail[0] == "DISCOVERY" && tail[1] == "7" {
			msg := wire.SyncStateMsg{States: []wire.SyncState{{Type: wire.ActionUpdate, Name: "/c", Session: 7, Seq: 2}}}
			buf := wire.Encode(msg)
			defer buf.Release()
			data := &ndn.Data{Name: interest.Name, Content: append([]byte(nil), buf.Bytes...)}
			answerC = func() { _ = reply(data) }
		}
	}, nil)
	require.NoError(t, err)

	requesterFace := newFakeFace(bus)
	remoteDigest := "1,0;7,2;" // same session 1 seq, plus an entry A has never seen
	name := broadcastPrefix.Append(remoteDigest)
	_, err = requesterFace.ExpressInterest(&ndn.Interest{Name: name, Lifetime: time.Second}, func(ndn.InterestResult, *ndn.Data) {})
	require.NoError(t, err)
	bus.Drain()

	require.Len(t, a.outgoingDiscoveryInterests, 1)
	assert.Equal(t, uint32(2), a.outgoingDiscoveryInterests[7])

	// Repeat the same unknown entry before the discovery data arrives:
	// must not re-express a second discovery interest.
	discoveryName := broadcastPrefix.Append("DISCOVERY", "7").String()
	inFlightBefore := len(bus.outstanding[discoveryName])
	requesterFace2 := newFakeFace(bus)
	_, err = requesterFace2.ExpressInterest(&ndn.Interest{Name: name, Lifetime: time.Second}, func(ndn.InterestResult, *ndn.Data) {})
	require.NoError(t, err)
	bus.Drain()
	assert.Equal(t, inFlightBefore, len(bus.outstanding[discoveryName]), "dedup: no second DISCOVERY interest in flight")

	// Releasing c's answer resolves the in-flight DISCOVERY interest.
	answerC()
	bus.Drain()
	_, exists := a.outgoingDiscoveryInterests[7]
	assert.False(t, exists, "resolved after delivery")
	seq, ok := a.SequenceNo("/c", 7)
	require.True(t, ok)
	assert.Equal(t, uint32(2), seq)
}

// A parked interest is satisfied once a later publish resolves it,
// and removed from the store on send.
func TestPublishSatisfiesParkedInterest(t *testing.T) {
	bus := newFakeBus()
	a, _, _, _ := newTestEngine(t, bus, "/a", 1)
	require.NoError(t, a.Start())
	bus.Drain()
	bus.timeoutInterest(broadcastPrefix.Append("00").String())
	bus.Drain() // a: root "1,0;"

	requesterFace := newFakeFace(bus)
	name := broadcastPrefix.Append("1,0;") // matches a's current root exactly -> parks
	var gotData *ndn.Data
	_, err := requesterFace.ExpressInterest(&ndn.Interest{Name: name, Lifetime: time.Second}, func(result ndn.InterestResult, data *ndn.Data) {
		if result == ndn.ResultData {
			gotData = data
		}
	})
	require.NoError(t, err)
	bus.Drain()

	assert.Nil(t, gotData, "matching digest parks rather than answers immediately")
	assert.Equal(t, 1, a.pending.Len())

	require.NoError(t, a.Publish(nil)) // a: seq 1
	bus.Drain()

	require.NotNil(t, gotData, "publish must resolve the parked interest")
	msg, err := wire.Parse(gotData.Content)
	require.NoError(t, err)
	require.Len(t, msg.States, 1)
	assert.Equal(t, uint32(1), msg.States[0].Seq)
	assert.Equal(t, 0, a.pending.Len(), "satisfied park is removed")
}

// Sync interest timeout on the still-current root is retried.
func TestSyncInterestTimeoutMatchingRootRetries(t *testing.T) {
	bus := newFakeBus()
	a, _, _, _ := newTestEngine(t, bus, "/a", 1)
	require.NoError(t, a.Start())
	bus.Drain()
	bus.timeoutInterest(broadcastPrefix.Append("00").String())
	bus.Drain()

	name := broadcastPrefix.Append(vectorstate.Escape("1,0;")).String()
	require.True(t, bus.hasOutstanding(name))

	bus.timeoutInterest(name)
	bus.Drain()

	assert.True(t, bus.hasOutstanding(name), "same digest is re-expressed after timeout")
}

func TestShutdownCancelsOutstandingAndIgnoresLaterCallbacks(t *testing.T) {
	bus := newFakeBus()
	a, _, _, initialized := newTestEngine(t, bus, "/a", 1)
	require.NoError(t, a.Start())
	bus.Drain()

	a.Shutdown()

	name := broadcastPrefix.Append("00").String()
	assert.False(t, bus.hasOutstanding(name), "shutdown cancels the outstanding interest")

	err := a.Publish(nil)
	assert.Error(t, err)
	assert.Equal(t, 0, *initialized)
}

// A persisted sequence number overrides PreviousSequenceNumber on the
// next bootstrap, so a restarted participant resumes past its old
// publishes.
func TestPersistentStoreSeedsBootstrap(t *testing.T) {
	bus := newFakeBus()
	face := newFakeFace(bus)
	store := &fakePersistentStore{seqs: map[string]uint32{"/a|1": 41}}
	cfg := Config{
		OwnDataPrefix:          "/a",
		OwnSessionID:           1,
		BroadcastPrefix:        broadcastPrefix,
		Face:                   face,
		KeyChain:               fakeKeyChain{},
		SyncLifetime:           time.Second,
		PreviousSequenceNumber: -1,
		PersistentStore:        store,
	}
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	bus.Drain()
	bus.timeoutInterest(broadcastPrefix.Append("00").String())
	bus.Drain()

	seq, ok := e.SequenceNo("/a", 1)
	require.True(t, ok)
	assert.Equal(t, uint32(42), seq, "resumes at persisted+1, not at 0")
	assert.Equal(t, uint32(42), store.seqs["/a|1"], "new sequence is journaled")
}

// Every table mutation replaces the read-only status snapshot.
func TestStatusSnapshotTracksTable(t *testing.T) {
	bus := newFakeBus()
	face := newFakeFace(bus)
	registry := status.NewRegistry()
	cfg := Config{
		OwnDataPrefix:          "/a",
		OwnSessionID:           1,
		BroadcastPrefix:        broadcastPrefix,
		Face:                   face,
		KeyChain:               fakeKeyChain{},
		SyncLifetime:           time.Second,
		PreviousSequenceNumber: -1,
		StatusRegistry:         registry,
	}
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	bus.Drain()
	bus.timeoutInterest(broadcastPrefix.Append("00").String())
	bus.Drain()

	snap, ok := registry.Get("/a")
	require.True(t, ok)
	assert.Equal(t, "1,0;", snap.Root)

	require.NoError(t, e.Publish(nil))
	bus.Drain()
	snap, _ = registry.Get("/a")
	assert.Equal(t, "1,1;", snap.Root)
	require.Len(t, snap.Producers, 1)
	assert.Equal(t, uint32(1), snap.Producers[0].SequenceNo)

	e.Shutdown()
	_, ok = registry.Get("/a")
	assert.False(t, ok, "shutdown removes the snapshot")
}

// The blob passed to Publish rides along on the own-session update in
// outgoing sync data.
func TestPublishCarriesApplicationInfo(t *testing.T) {
	bus := newFakeBus()
	a, _, _, _ := newTestEngine(t, bus, "/a", 1)
	require.NoError(t, a.Start())
	bus.Drain()
	bus.timeoutInterest(broadcastPrefix.Append("00").String())
	bus.Drain() // a: root "1,0;"

	requesterFace := newFakeFace(bus)
	name := broadcastPrefix.Append("1,0;") // parks against a's current root
	var gotData *ndn.Data
	_, err := requesterFace.ExpressInterest(&ndn.Interest{Name: name, Lifetime: time.Second}, func(result ndn.InterestResult, data *ndn.Data) {
		if result == ndn.ResultData {
			gotData = data
		}
	})
	require.NoError(t, err)
	bus.Drain()

	require.NoError(t, a.Publish([]byte("item-1")))
	bus.Drain()

	require.NotNil(t, gotData)
	msg, err := wire.Parse(gotData.Content)
	require.NoError(t, err)
	require.Len(t, msg.States, 1)
	assert.Equal(t, []byte("item-1"), msg.States[0].ApplicationInfo)
}

type fakePersistentStore struct {
	seqs map[string]uint32
}

func (s *fakePersistentStore) key(prefix string, sid uint32) string {
	return fmt.Sprintf("%s|%d", prefix, sid)
}

func (s *fakePersistentStore) LoadSequenceNo(prefix string, sid uint32) (uint32, bool) {
	seq, ok := s.seqs[s.key(prefix, sid)]
	return seq, ok
}

func (s *fakePersistentStore) SaveSequenceNo(prefix string, sid uint32, seq uint32) error {
	s.seqs[s.key(prefix, sid)] = seq
	return nil
}

// With an update interval set, a publish inside the suppression window
// does not immediately re-express; the scheduled check notices the
// moved root and forces the send.
func TestUpdateIntervalSuppressesThenCheckForUpdateSends(t *testing.T) {
	bus := newFakeBus()
	face := newFakeFace(bus)
	cfg := Config{
		OwnDataPrefix:          "/a",
		OwnSessionID:           1,
		BroadcastPrefix:        broadcastPrefix,
		Face:                   face,
		KeyChain:               fakeKeyChain{},
		SyncLifetime:           time.Second,
		PreviousSequenceNumber: -1,
		UpdateInterval:         time.Minute,
	}
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	bus.Drain()
	bus.timeoutInterest(broadcastPrefix.Append("00").String())
	bus.Drain()

	oldName := broadcastPrefix.Append(vectorstate.Escape("1,0;")).String()
	require.True(t, bus.hasOutstanding(oldName))

	require.NoError(t, e.Publish(nil))
	bus.Drain()

	newName := broadcastPrefix.Append(vectorstate.Escape("1,1;")).String()
	assert.False(t, bus.hasOutstanding(newName), "inside the window the new root is not expressed yet")
	assert.True(t, bus.hasOutstanding(oldName), "the old-root interest is still the one in flight")

	face.scheduler.FireAll()
	bus.Drain()

	assert.True(t, bus.hasOutstanding(newName), "the update check forces the send")
	assert.False(t, bus.hasOutstanding(oldName), "expressing the new root cancels the old one")
}
