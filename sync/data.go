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
	"github.com/WU-ARL/ICTSync/wire"
)

// processInboundData is the single entry point for every Data the
// engine's own expressed interests resolve to, whatever kind of
// interest triggered it.
func (e *Engine) processInboundData(data *ndn.Data) {
	if !e.enabled {
		return
	}
	tail := e.tailAfterBroadcast(data.Name)
	if len(tail) == 0 {
		return
	}
	t := tail[0]

	if e.cfg.IsDiscovery && t != "DISCOVERY" {
		// In discovery mode the engine only applies state learned
		// through DISCOVERY exchanges or through inbound sync interests
		// it answers; ordinary sync Data for its own expressed
		// digest-root interest carries no session names it could
		// resolve.
		e.log.Debug("in discovery mode, ignoring non-discovery sync data")
		e.sendSyncInterest()
		return
	}

	msg, err := wire.Parse(data.Content)
	if err != nil {
		e.log.WithError(err).Warn("parse failure of payload; dropping")
		e.sendSyncInterest()
		return
	}

	var updated bool
	var updates []SyncState

	switch {
	case t == "DISCOVERY":
		if !e.cfg.IsDiscovery {
			e.log.Error("received DISCOVERY packet while discovery mode is off; dropping")
			e.sendSyncInterest()
			return
		}
		if len(tail) < 2 {
			e.sendSyncInterest()
			return
		}
		sid64, perr := strconv.ParseUint(tail[1], 10, 32)
		if perr != nil {
			e.sendSyncInterest()
			return
		}
		updated, updates = e.onDiscoveryData(uint32(sid64), msg)
	case e.vector.VectorRoot() == "00":
		updated, updates = e.applyBootstrapData(msg)
	default:
		updated, updates = e.applyNormalUpdates(msg)
	}

	if updated {
		e.publishStatus()
		if len(updates) > 0 {
			e.notifyReceived(updates)
		}
	}
	e.sendSyncInterest()
}

// applyBootstrapData handles the first data a newcomer hears: apply
// every UPDATE, report initialization, and self-insert if the
// bootstrap data didn't already carry this instance's own entry.
func (e *Engine) applyBootstrapData(msg wire.SyncStateMsg) (bool, []SyncState) {
	var updates []SyncState
	for _, s := range msg.States {
		if s.Type != wire.ActionUpdate || s.Name == "" {
			continue
		}
		if e.vector.Update(s.Name, s.Session, s.Seq) {
			idx := e.vector.Find(s.Name, s.Session)
			updates = append(updates, SyncState{DataPrefix: s.Name, SessionID: s.Session, SequenceNo: e.vector.Get(idx).SequenceNo})
		}
	}

	e.state = stateConverged
	e.invokeOnInitialized()

	if e.vector.Find(e.cfg.OwnDataPrefix, e.cfg.OwnSessionID) == -1 {
		newSeq := uint32(e.cfg.previousSeq() + 1)
		e.vector.Update(e.cfg.OwnDataPrefix, e.cfg.OwnSessionID, newSeq)
		e.persistOwnSeq(newSeq)
		updates = append(updates, SyncState{DataPrefix: e.cfg.OwnDataPrefix, SessionID: e.cfg.OwnSessionID, SequenceNo: newSeq})
		e.invokeOnInitialized()
	}

	return true, updates
}

// applyNormalUpdates handles steady-state data: apply every UPDATE and
// UPDATE_NO_NAME, resolving the latter's producer name through the
// existing table.
func (e *Engine) applyNormalUpdates(msg wire.SyncStateMsg) (bool, []SyncState) {
	var updates []SyncState
	for _, s := range msg.States {
		prefix := s.Name
		if s.Type == wire.ActionUpdateNoName {
			prefix = e.vector.SessionName(s.Session)
			if prefix == "" {
				e.log.WithField("session", s.Session).Error("couldn't resolve session name for UPDATE_NO_NAME")
				continue
			}
		}
		if prefix == "" {
			continue
		}
		if e.vector.Update(prefix, s.Session, s.Seq) {
			idx := e.vector.Find(prefix, s.Session)
			updates = append(updates, SyncState{DataPrefix: prefix, SessionID: s.Session, SequenceNo: e.vector.Get(idx).SequenceNo})
		}
	}
	return len(updates) > 0, updates
}

// onDiscoveryData resolves an outstanding DISCOVERY lookup, preferring
// a sequence number already learned while the request was in flight
// over a possibly-stale one in the payload.
func (e *Engine) onDiscoveryData(sid uint32, msg wire.SyncStateMsg) (bool, []SyncState) {
	if len(msg.States) == 0 {
		return false, nil
	}
	s := msg.States[0]
	seq := s.Seq
	if stored, ok := e.outgoingDiscoveryInterests[sid]; ok && stored > seq {
		seq = stored
	}
	delete(e.outgoingDiscoveryInterests, sid)
	delete(e.discoveryHandles, sid)
	if len(e.outgoingDiscoveryInterests) == 0 && e.state == stateRecovering {
		e.state = stateConverged
	}

	if s.Name == "" {
		return false, nil
	}
	if !e.vector.Update(s.Name, sid, seq) {
		return false, nil
	}
	idx := e.vector.Find(s.Name, sid)
	return true, []SyncState{{DataPrefix: s.Name, SessionID: sid, SequenceNo: e.vector.Get(idx).SequenceNo}}
}
