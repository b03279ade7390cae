// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package sync

import (
	"strconv"

	"github.com/WU-ARL/ICTSync/ndn"
	"github.com/WU-ARL/ICTSync/utils/comparison"
	"github.com/WU-ARL/ICTSync/vectorstate"
)

// expressInitialInterest sends the newcomer interest that opens
// Bootstrapping.
func (e *Engine) expressInitialInterest() {
	name := e.cfg.BroadcastPrefix.Append("00")
	interest := &ndn.Interest{Name: name, Lifetime: e.cfg.SyncLifetime, MustBeFresh: true}
	handle, err := e.cfg.Face.ExpressInterest(interest, e.onInitialData)
	if err != nil {
		e.log.WithError(err).Error("failed to express initial interest")
		return
	}
	e.outgoingInterest = handle
}

func (e *Engine) onInitialData(result ndn.InterestResult, data *ndn.Data) {
	if !e.enabled {
		return
	}
	if result != ndn.ResultData {
		e.onInitialTimeout()
		return
	}
	e.processInboundData(data)
}

// onInitialTimeout concludes no peers are present: self-insert at
// previous+1 and transition to Converged.
func (e *Engine) onInitialTimeout() {
	if !e.enabled {
		return
	}
	newSeq := e.cfg.previousSeq() + 1
	if newSeq < 0 {
		e.log.Error("sequence number not advancing as expected after initial timeout; aborting bootstrap")
		return
	}
	if !e.vector.Update(e.cfg.OwnDataPrefix, e.cfg.OwnSessionID, uint32(newSeq)) {
		e.log.Error("sequence number not advancing as expected after initial timeout; aborting bootstrap")
		return
	}
	e.persistOwnSeq(uint32(newSeq))
	e.publishStatus()
	e.state = stateConverged
	e.invokeOnInitialized()
	e.sendSyncInterest()
}

// sendSyncInterest expresses the current root's interest immediately,
// unless suppression is active and the interval hasn't elapsed.
func (e *Engine) sendSyncInterest() {
	now := e.now()
	if e.cfg.UpdateInterval == 0 || !now.Before(e.nextInterestTs) {
		e.forceExpressSyncInterest()
		if e.cfg.UpdateInterval > 0 {
			e.nextInterestTs = now.Add(e.cfg.UpdateInterval)
			e.scheduleCheckForUpdate()
		}
	}
}

// forceExpressSyncInterest re-expresses the current root's sync
// interest regardless of suppression, used by timeout recovery and by
// checkForUpdate's forced send.
func (e *Engine) forceExpressSyncInterest() {
	digest := e.vector.VectorRoot()
	name := e.cfg.BroadcastPrefix.Append(vectorstate.Escape(digest))

	if e.outgoingInterest != nil {
		_ = e.outgoingInterest.Cancel()
		e.outgoingInterest = nil
	}

	interest := &ndn.Interest{Name: name, Lifetime: e.cfg.SyncLifetime, MustBeFresh: true}
	handle, err := e.cfg.Face.ExpressInterest(interest, func(result ndn.InterestResult, data *ndn.Data) {
		e.onSyncInterestResult(digest, result, data)
	})
	if err != nil {
		e.log.WithError(err).Error("failed to express sync interest")
		return
	}
	e.outgoingInterest = handle
	e.lastSentDigest = digest
}

func (e *Engine) onSyncInterestResult(expectedDigest string, result ndn.InterestResult, data *ndn.Data) {
	if !e.enabled {
		return
	}
	if result != ndn.ResultData {
		e.onSyncTimeout(expectedDigest)
		return
	}
	e.processInboundData(data)
}

// onSyncTimeout retries only the interest matching the still-current
// root; a stale one is a no-op since a distinct digest has presumably
// already been expressed.
func (e *Engine) onSyncTimeout(expectedDigest string) {
	if !e.enabled {
		return
	}
	if e.vector.VectorRoot() == expectedDigest {
		e.forceExpressSyncInterest()
	}
}

// checkForUpdate is the update-interval timer callback: forces a send
// if the root moved since the last one, then reschedules itself
// unconditionally.
func (e *Engine) checkForUpdate() {
	if !e.enabled {
		return
	}
	if e.vector.VectorRoot() != e.lastSentDigest {
		e.forceExpressSyncInterest()
	}
	e.scheduleCheckForUpdate()
}

func (e *Engine) scheduleCheckForUpdate() {
	if e.updateTimer != nil {
		e.updateTimer.Cancel()
	}
	e.updateTimer = e.cfg.Face.Scheduler().Schedule(e.cfg.UpdateInterval, e.checkForUpdate)
}

// requestDiscovery opens an outbound DISCOVERY interest for an unknown
// session, deduping against one already in flight. While any lookup is
// outstanding the engine is in its recovering state.
func (e *Engine) requestDiscovery(sid uint32, seq uint32) {
	if stored, exists := e.outgoingDiscoveryInterests[sid]; exists {
		e.outgoingDiscoveryInterests[sid] = comparison.Max(stored, seq)
		return
	}
	e.outgoingDiscoveryInterests[sid] = seq
	if e.state == stateConverged {
		e.state = stateRecovering
	}
	e.expressDiscoveryInterest(sid)
}

func (e *Engine) expressDiscoveryInterest(sid uint32) {
	name := e.cfg.BroadcastPrefix.Append("DISCOVERY", strconv.FormatUint(uint64(sid), 10))
	interest := &ndn.Interest{Name: name, Lifetime: e.cfg.SyncLifetime, MustBeFresh: true}
	handle, err := e.cfg.Face.ExpressInterest(interest, func(result ndn.InterestResult, data *ndn.Data) {
		e.onDiscoveryInterestResult(sid, result, data)
	})
	if err != nil {
		e.log.WithError(err).Error("failed to express discovery interest")
		return
	}
	e.discoveryHandles[sid] = handle
}

func (e *Engine) onDiscoveryInterestResult(sid uint32, result ndn.InterestResult, data *ndn.Data) {
	if !e.enabled {
		return
	}
	if result != ndn.ResultData {
		e.onDiscoveryTimeout(sid)
		return
	}
	e.processInboundData(data)
}

// onDiscoveryTimeout re-expresses the same lookup with no back-off; a
// peer owning the session will eventually answer or the table will
// learn the name another way.
func (e *Engine) onDiscoveryTimeout(sid uint32) {
	if !e.enabled {
		return
	}
	if _, exists := e.outgoingDiscoveryInterests[sid]; !exists {
		return
	}
	e.expressDiscoveryInterest(sid)
}

// broadcastSyncData satisfies every parked interest the new state
// resolves: snapshot, walk back-to-front, diff each parked digest,
// send and remove on a non-empty positive set, leave the rest parked
// until expiry.
func (e *Engine) broadcastSyncData() {
	parked := e.pending.WithPrefix(e.cfg.BroadcastPrefix, false)
	for i := len(parked) - 1; i >= 0; i-- {
		entry := parked[i]
		tail := e.tailAfterBroadcast(entry.Interest.Name)
		if len(tail) == 0 {
			continue
		}
		digest := tail[0]
		positive, _, _, pushDataName := e.vector.Diff(digest)
		if len(positive) == 0 {
			continue
		}
		e.sendSyncData(entry.Interest.Name, positive, pushDataName, e.cfg.Face.Put)
		e.pending.ForName(entry.Interest.Name, true)
	}
}
