// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package bufpool reuses byte buffers for the wire codec's encode
// path. A sync participant re-encodes and re-sends its state vector on
// every timer tick, so encode buffers are a hot allocation site.
package bufpool

import (
	"sync"

	"github.com/Link512/stealthpool"
)

const (
	blockSize  = 4096
	blockCount = 64
)

var (
	once sync.Once
	pool *stealthpool.Pool
)

func ensurePool() {
	once.Do(func() {
		p, err := stealthpool.New(blockCount, stealthpool.WithBlockSize(blockSize))
		if err != nil {
			// Keep running unpooled; the pool is a throughput
			// optimization, not a correctness requirement.
			pool = nil
			return
		}
		pool = p
	})
}

// Buffer wraps a byte slice that may be backed by a pooled block.
// Callers append to Bytes directly and call Release when done.
type Buffer struct {
	Bytes []byte
	block []byte
}

// Get returns an empty Buffer ready for appending.
func Get() *Buffer {
	ensurePool()
	if pool == nil {
		return &Buffer{Bytes: make([]byte, 0, blockSize)}
	}
	block, err := pool.Get()
	if err != nil {
		return &Buffer{Bytes: make([]byte, 0, blockSize)}
	}
	return &Buffer{Bytes: block[:0], block: block}
}

// Release returns the underlying block to the pool, if any. The
// Buffer must not be used afterward.
func (b *Buffer) Release() {
	if b.block != nil {
		_ = pool.Return(b.block)
		b.block = nil
	}
	b.Bytes = nil
}
