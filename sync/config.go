// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package sync implements the dataset synchronization protocol: every
// participant publishes a monotonically increasing sequence of items
// under its own prefix, and the engines converge on a shared
// (prefix, session) -> latest-sequence table through long-lived
// interest/data exchanges under a common broadcast prefix. Every
// exported method must run on the host's single event-loop thread;
// Engine performs no locking of its own.
package sync

import (
	"time"

	"github.com/WU-ARL/ICTSync/ndn"
	"github.com/WU-ARL/ICTSync/status"
)

// SyncState is the caller-visible shape of one update delivered to
// OnReceivedSyncState.
type SyncState struct {
	DataPrefix string
	SessionID  uint32
	SequenceNo uint32
}

// OnReceivedSyncStateFunc is invoked once per batch of applied updates.
// isRecovery is always false in the current protocol.
type OnReceivedSyncStateFunc func(updates []SyncState, isRecovery bool)

// OnInitializedFunc fires once bootstrap completes; it may fire twice
// if self-insertion follows bootstrap data.
type OnInitializedFunc func()

// OnRegisterFailedFunc surfaces a failed prefix registration to the
// application.
type OnRegisterFailedFunc func(prefix ndn.Name, reason string)

// PersistentStore durably records a participant's own sequence number
// across restarts. Optional: when Config's implementation is nil, the
// engine always bootstraps from PreviousSequenceNumber.
type PersistentStore interface {
	LoadSequenceNo(dataPrefix string, sessionID uint32) (seq uint32, ok bool)
	SaveSequenceNo(dataPrefix string, sessionID uint32, seq uint32) error
}

// Config configures an Engine.
type Config struct {
	OwnDataPrefix   string
	OwnSessionID    uint32
	BroadcastPrefix ndn.Name

	Face            ndn.Face
	KeyChain        ndn.KeyChain
	CertificateName ndn.Name // empty selects the keychain's default identity

	SyncLifetime time.Duration

	OnReceivedSyncState OnReceivedSyncStateFunc
	OnInitialized       OnInitializedFunc
	OnRegisterFailed    OnRegisterFailedFunc

	// PreviousSequenceNumber seeds bootstrap when PersistentStore is
	// nil or has no record yet. -1 means "never published"; since that
	// isn't Go's int64 zero value, callers constructing a fresh
	// participant must set it explicitly rather than relying on an
	// elided field.
	PreviousSequenceNumber int64

	IsDiscovery bool
	NoData      bool

	// UpdateInterval is the minimum spacing between re-expressed sync
	// interests. Zero disables suppression.
	UpdateInterval time.Duration

	PersistentStore PersistentStore

	// StatusRegistry, when non-nil, receives a read-only snapshot of
	// the table after every mutation, keyed by OwnDataPrefix.
	StatusRegistry *status.Registry
}

func (c *Config) previousSeq() int64 {
	if c.PersistentStore != nil {
		if seq, ok := c.PersistentStore.LoadSequenceNo(c.OwnDataPrefix, c.OwnSessionID); ok {
			return int64(seq)
		}
	}
	return c.PreviousSequenceNumber
}
