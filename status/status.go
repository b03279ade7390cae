// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package status publishes read-only snapshots of a sync engine's
// replicated table. The engine replaces its snapshot after every
// mutation from its own event-loop thread; any other goroutine (an
// HTTP health endpoint, a metrics scraper) may read concurrently
// without hopping onto that loop, since a snapshot is immutable once
// published.
package status

import (
	"sort"
)

// Producer is one row of a snapshot.
type Producer struct {
	DataPrefix string
	SessionID  uint32
	SequenceNo uint32
}

// Snapshot is an immutable view of one engine's table at a point in
// its event-loop history.
type Snapshot struct {
	Root      string
	Producers []Producer
}

// Registry maps instance names to their latest snapshots. Writes come
// from each engine's event loop; reads from anywhere.
type Registry struct {
	m registryMap
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Publish replaces instance's snapshot. The caller must not mutate
// snap (or its Producers slice) after publishing.
func (r *Registry) Publish(instance string, snap Snapshot) {
	r.m.set(instance, snap)
}

// Get returns instance's latest snapshot.
func (r *Registry) Get(instance string) (Snapshot, bool) {
	return r.m.get(instance)
}

// Instances returns the registered instance names, sorted.
func (r *Registry) Instances() []string {
	names := r.m.keys()
	sort.Strings(names)
	return names
}

// Remove drops instance's snapshot, for an engine that has shut down.
func (r *Registry) Remove(instance string) {
	r.m.del(instance)
}
