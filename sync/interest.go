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
	"github.com/WU-ARL/ICTSync/vectorstate"
	"github.com/WU-ARL/ICTSync/wire"
)

// onInterest dispatches an inbound interest under the broadcast
// prefix. Any trailing nonce component beyond the matched leading
// component is ignored; this implementation relies on Interest.Nonce
// for aggregation avoidance rather than a name component, so the
// "root + nonce" shape collapses into the same handling as the plain
// single-component shapes.
func (e *Engine) onInterest(interest *ndn.Interest, reply ndn.ReplyFunc) {
	if !e.enabled {
		return
	}
	tail := e.tailAfterBroadcast(interest.Name)
	if len(tail) == 0 {
		return
	}
	switch tail[0] {
	case "00":
		e.handleNewcomer(interest, reply)
	case "DISCOVERY":
		if len(tail) < 2 {
			return
		}
		e.handleDiscoveryQuery(interest, tail[1], reply)
	default:
		e.handleSyncInterest(interest, tail[0], reply)
	}
}

// handleNewcomer answers a fresh participant's "00" interest with the
// full local table, unless this instance never produces data or has no
// state of its own yet.
func (e *Engine) handleNewcomer(interest *ndn.Interest, reply ndn.ReplyFunc) {
	if e.cfg.NoData || e.vector.VectorRoot() == "00" {
		return
	}
	msg := wire.SyncStateMsg{States: make([]wire.SyncState, 0, e.vector.Size())}
	for i := 0; i < e.vector.Size(); i++ {
		entry := e.vector.Get(i)
		msg.States = append(msg.States, wire.SyncState{
			Type:    wire.ActionUpdate,
			Name:    entry.DataPrefix,
			Session: entry.SessionID,
			Seq:     entry.SequenceNo,
		})
	}
	data, err := e.buildData(interest.Name, msg, newcomerFreshness)
	if err != nil {
		e.log.WithError(err).Warn("failed to build newcomer response")
		return
	}
	if err := reply(data); err != nil {
		e.log.WithError(err).Warn("failed to send newcomer response")
	}
}

// handleDiscoveryQuery answers a DISCOVERY/<sid> interest with the
// single matching entry, or drops silently if sid is unknown.
func (e *Engine) handleDiscoveryQuery(interest *ndn.Interest, sidComponent string, reply ndn.ReplyFunc) {
	if !e.cfg.IsDiscovery {
		e.log.Error("received DISCOVERY interest while discovery mode is off; dropping")
		return
	}
	sid64, err := strconv.ParseUint(sidComponent, 10, 32)
	if err != nil {
		e.log.WithField("component", sidComponent).Warn("malformed session id in DISCOVERY interest")
		return
	}
	idx := e.vector.FindSession(uint32(sid64))
	if idx == -1 {
		// Unknown session; a peer may simply have learned of it first.
		return
	}
	entry := e.vector.Get(idx)
	msg := wire.SyncStateMsg{States: []wire.SyncState{{
		Type:    wire.ActionUpdate,
		Name:    entry.DataPrefix,
		Session: entry.SessionID,
		Seq:     entry.SequenceNo,
	}}}
	data, err := e.buildData(interest.Name, msg, 0)
	if err != nil {
		e.log.WithError(err).Warn("failed to build DISCOVERY response")
		return
	}
	if err := reply(data); err != nil {
		e.log.WithError(err).Warn("failed to send DISCOVERY response")
	}
}

// handleSyncInterest implements the core convergence step: park a
// matching digest, or diff and respond/apply/recover.
func (e *Engine) handleSyncInterest(interest *ndn.Interest, digest string, reply ndn.ReplyFunc) {
	if vectorstate.Unescape(digest) == e.vector.VectorRoot() {
		if !e.cfg.NoData {
			e.pending.Store(interest)
		}
		return
	}

	positive, negative, unknown, pushDataName := e.vector.Diff(digest)

	if len(positive) > 0 {
		e.sendSyncData(interest.Name, positive, pushDataName, reply)
	}

	var updates []SyncState
	for _, n := range negative {
		prefix := e.vector.SessionName(n.SessionID)
		if prefix == "" {
			continue
		}
		if e.vector.Update(prefix, n.SessionID, n.SequenceNo) {
			idx := e.vector.Find(prefix, n.SessionID)
			updates = append(updates, SyncState{DataPrefix: prefix, SessionID: n.SessionID, SequenceNo: e.vector.Get(idx).SequenceNo})
		}
	}

	if e.cfg.IsDiscovery {
		for _, u := range unknown {
			e.requestDiscovery(u.SessionID, u.SequenceNo)
		}
	}

	if len(updates) > 0 {
		e.publishStatus()
		e.notifyReceived(updates)
	}

	e.sendSyncInterest()
}

// sendSyncData replies with the positive set, using full UPDATE names
// unless discovery mode is on and no entry requires introducing an
// unseen session name. The engine's own entry carries the
// application-info blob from the latest Publish.
func (e *Engine) sendSyncData(name ndn.Name, positive []int, pushDataName bool, send func(*ndn.Data) error) {
	useFullName := pushDataName || !e.cfg.IsDiscovery
	msg := wire.SyncStateMsg{States: make([]wire.SyncState, 0, len(positive))}
	for _, idx := range positive {
		entry := e.vector.Get(idx)
		s := wire.SyncState{Session: entry.SessionID, Seq: entry.SequenceNo}
		if useFullName {
			s.Type = wire.ActionUpdate
			s.Name = entry.DataPrefix
		} else {
			s.Type = wire.ActionUpdateNoName
		}
		if entry.DataPrefix == e.cfg.OwnDataPrefix && entry.SessionID == e.cfg.OwnSessionID {
			s.ApplicationInfo = e.ownAppInfo
		}
		msg.States = append(msg.States, s)
	}
	data, err := e.buildData(name, msg, 0)
	if err != nil {
		e.log.WithError(err).Warn("failed to build sync data")
		return
	}
	if err := send(data); err != nil {
		// Peers will re-express; no retry here.
		e.log.WithError(err).Warn("failed to send sync data")
	}
}
