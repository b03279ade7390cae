// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package sync

import (
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/WU-ARL/ICTSync/core"
	"github.com/WU-ARL/ICTSync/ndn"
	"github.com/WU-ARL/ICTSync/pending"
	"github.com/WU-ARL/ICTSync/status"
	"github.com/WU-ARL/ICTSync/vectorstate"
	"github.com/WU-ARL/ICTSync/wire"
)

type lifecycleState int

const (
	stateInit lifecycleState = iota
	stateBootstrapping
	stateConverged
	stateRecovering
	stateShutdown
)

const newcomerFreshness = 500 * time.Millisecond

// Engine runs the sync protocol state machine on top of a
// host-provided Face/KeyChain/Scheduler. Every method that mutates
// engine state must be called from the same thread that drives the
// Face's callbacks; Engine performs no internal locking.
type Engine struct {
	cfg   Config
	log   *log.Entry
	clock func() time.Time

	vector  *vectorstate.VectorState
	pending *pending.Store

	state   lifecycleState
	enabled bool

	// ownAppInfo is the blob handed to the most recent Publish; it
	// rides along on the own-session UPDATE in outgoing sync data.
	ownAppInfo []byte

	registeredPrefix ndn.RegisteredPrefix
	outgoingInterest ndn.PendingInterest
	lastSentDigest   string
	nextInterestTs   time.Time
	updateTimer      ndn.ScheduledEvent

	// outgoingDiscoveryInterests dedups in-flight discovery lookups,
	// retaining the larger observed sequence number for each session.
	outgoingDiscoveryInterests map[uint32]uint32
	discoveryHandles           map[uint32]ndn.PendingInterest
}

// New validates cfg and constructs an Engine. Call Start to begin
// bootstrapping.
func New(cfg Config) (*Engine, error) {
	if cfg.OwnDataPrefix == "" {
		return nil, errors.Wrap(core.ErrNotConfigured, "OwnDataPrefix required")
	}
	if len(cfg.BroadcastPrefix) == 0 {
		return nil, errors.Wrap(core.ErrNotConfigured, "BroadcastPrefix required")
	}
	if cfg.Face == nil || cfg.KeyChain == nil {
		return nil, errors.Wrap(core.ErrNotConfigured, "Face and KeyChain required")
	}
	return &Engine{
		cfg:                        cfg,
		log:                        core.WithModule("sync").WithField("prefix", cfg.OwnDataPrefix),
		clock:                      time.Now,
		vector:                     vectorstate.New(),
		pending:                    pending.New(nil),
		state:                      stateInit,
		outgoingDiscoveryInterests: make(map[uint32]uint32),
		discoveryHandles:           make(map[uint32]ndn.PendingInterest),
	}, nil
}

func (e *Engine) now() time.Time { return e.clock() }

// Start registers the broadcast prefix and expresses the newcomer
// interest, moving the engine from Init to Bootstrapping.
func (e *Engine) Start() error {
	if e.state != stateInit {
		return errors.New("ictsync: engine already started")
	}
	handle, err := e.cfg.Face.SetInterestFilter(e.cfg.BroadcastPrefix, e.onInterest, e.onRegisterFailed)
	if err != nil {
		return errors.Wrap(err, "ictsync: register broadcast prefix")
	}
	e.registeredPrefix = handle
	e.enabled = true
	e.state = stateBootstrapping
	e.expressInitialInterest()
	return nil
}

// Reregister re-attempts broadcast-prefix registration without
// reconstructing the engine, for callers recovering from an initial
// registration failure.
func (e *Engine) Reregister(onFailed OnRegisterFailedFunc) error {
	if !e.enabled {
		return core.ErrShutdown
	}
	if e.registeredPrefix != nil {
		_ = e.registeredPrefix.Cancel()
		e.registeredPrefix = nil
	}
	handle, err := e.cfg.Face.SetInterestFilter(e.cfg.BroadcastPrefix, e.onInterest, func(prefix ndn.Name, reason string) {
		e.log.WithField("reason", reason).Error("prefix re-registration failed")
		if onFailed != nil {
			onFailed(prefix, reason)
		}
	})
	if err != nil {
		return errors.Wrap(err, "ictsync: re-register broadcast prefix")
	}
	e.registeredPrefix = handle
	return nil
}

// Shutdown flips enabled off, releases the broadcast registration and
// every outstanding interest, and makes all later callbacks no-ops.
func (e *Engine) Shutdown() {
	if !e.enabled {
		return
	}
	e.enabled = false
	e.state = stateShutdown
	if e.registeredPrefix != nil {
		_ = e.registeredPrefix.Cancel()
		e.registeredPrefix = nil
	}
	if e.outgoingInterest != nil {
		_ = e.outgoingInterest.Cancel()
		e.outgoingInterest = nil
	}
	if e.updateTimer != nil {
		e.updateTimer.Cancel()
		e.updateTimer = nil
	}
	for sid, h := range e.discoveryHandles {
		_ = h.Cancel()
		delete(e.discoveryHandles, sid)
	}
	e.outgoingDiscoveryInterests = make(map[uint32]uint32)
	if e.cfg.StatusRegistry != nil {
		e.cfg.StatusRegistry.Remove(e.cfg.OwnDataPrefix)
	}
}

func (e *Engine) onRegisterFailed(prefix ndn.Name, reason string) {
	e.log.WithField("reason", reason).Error("broadcast prefix registration failed")
	if e.cfg.OnRegisterFailed != nil {
		e.cfg.OnRegisterFailed(prefix, reason)
	}
}

// Publish bumps the engine's own sequence number, satisfies any parked
// interests the new state resolves, and re-expresses the sync
// interest. applicationInfo, if non-nil, is attached to the outgoing
// update for this publish.
func (e *Engine) Publish(applicationInfo []byte) error {
	if !e.enabled {
		return core.ErrShutdown
	}
	e.ownAppInfo = applicationInfo
	newSeq := e.ownSequenceNo() + 1
	e.vector.Update(e.cfg.OwnDataPrefix, e.cfg.OwnSessionID, newSeq)
	e.persistOwnSeq(newSeq)
	e.publishStatus()
	e.broadcastSyncData()
	e.sendSyncInterest()
	return nil
}

func (e *Engine) ownSequenceNo() uint32 {
	if idx := e.vector.Find(e.cfg.OwnDataPrefix, e.cfg.OwnSessionID); idx != -1 {
		return e.vector.Get(idx).SequenceNo
	}
	return 0
}

func (e *Engine) persistOwnSeq(seq uint32) {
	if e.cfg.PersistentStore == nil {
		return
	}
	if err := e.cfg.PersistentStore.SaveSequenceNo(e.cfg.OwnDataPrefix, e.cfg.OwnSessionID, seq); err != nil {
		e.log.WithError(err).Warn("failed to persist own sequence number")
	}
}

// publishStatus replaces this instance's read-only snapshot. Runs on
// the event loop; readers never do.
func (e *Engine) publishStatus() {
	if e.cfg.StatusRegistry == nil {
		return
	}
	producers := make([]status.Producer, 0, e.vector.Size())
	for i := 0; i < e.vector.Size(); i++ {
		entry := e.vector.Get(i)
		producers = append(producers, status.Producer{
			DataPrefix: entry.DataPrefix,
			SessionID:  entry.SessionID,
			SequenceNo: entry.SequenceNo,
		})
	}
	e.cfg.StatusRegistry.Publish(e.cfg.OwnDataPrefix, status.Snapshot{
		Root:      e.vector.VectorRoot(),
		Producers: producers,
	})
}

// Producers enumerates the full participant table.
func (e *Engine) Producers() []SyncState {
	out := make([]SyncState, 0, e.vector.Size())
	for i := 0; i < e.vector.Size(); i++ {
		entry := e.vector.Get(i)
		out = append(out, SyncState{DataPrefix: entry.DataPrefix, SessionID: entry.SessionID, SequenceNo: entry.SequenceNo})
	}
	return out
}

// SequenceNo looks up a known (dataPrefix, sessionID)'s sequence
// number.
func (e *Engine) SequenceNo(dataPrefix string, sessionID uint32) (uint32, bool) {
	idx := e.vector.Find(dataPrefix, sessionID)
	if idx == -1 {
		return 0, false
	}
	return e.vector.Get(idx).SequenceNo, true
}

func (e *Engine) tailAfterBroadcast(name ndn.Name) []string {
	if len(name) <= len(e.cfg.BroadcastPrefix) {
		return nil
	}
	return name[len(e.cfg.BroadcastPrefix):]
}

func (e *Engine) notifyReceived(updates []SyncState) {
	if e.cfg.OnReceivedSyncState == nil || len(updates) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("panic", r).Error("on_received_sync_state panicked")
		}
	}()
	e.cfg.OnReceivedSyncState(updates, false)
}

func (e *Engine) invokeOnInitialized() {
	if e.cfg.OnInitialized == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("panic", r).Error("on_initialized panicked")
		}
	}()
	e.cfg.OnInitialized()
}

// buildData encodes msg, signs it, and stamps it with name/freshness.
func (e *Engine) buildData(name ndn.Name, msg wire.SyncStateMsg, freshness time.Duration) (*ndn.Data, error) {
	buf := wire.Encode(msg)
	defer buf.Release()
	data := &ndn.Data{
		Name:      name,
		Content:   append([]byte(nil), buf.Bytes...),
		Freshness: freshness,
	}
	if err := e.cfg.KeyChain.Sign(data, e.cfg.CertificateName); err != nil {
		return nil, errors.Wrap(err, "sign data")
	}
	return data, nil
}
