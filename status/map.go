// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package status

import "github.com/cornelk/hashmap"

// registryMap wraps the lock-free hashmap so Registry's surface stays
// typed. The zero value is ready to use.
type registryMap struct {
	m hashmap.HashMap
}

func (r *registryMap) set(key string, snap Snapshot) {
	r.m.Set(key, snap)
}

func (r *registryMap) get(key string) (Snapshot, bool) {
	v, ok := r.m.GetStringKey(key)
	if !ok {
		return Snapshot{}, false
	}
	return v.(Snapshot), true
}

func (r *registryMap) del(key string) {
	r.m.Del(key)
}

func (r *registryMap) keys() []string {
	out := make([]string, 0, r.m.Len())
	for kv := range r.m.Iter() {
		out = append(out, kv.Key.(string))
	}
	return out
}
