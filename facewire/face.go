// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package facewire provides a websocket-backed implementation of
// ndn.Face, plus the broadcast hub the demo deployment relays frames
// through. Each websocket binary message carries exactly one
// Interest or Data packet in the framing defined by the wire package.
//
// All face callbacks (interest handlers, data callbacks, scheduled
// events) are delivered on one internal goroutine, giving the sync
// engine the single event-loop thread its contract requires. Code
// outside that loop hops onto it with Post.
package facewire

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/WU-ARL/ICTSync/core"
	"github.com/WU-ARL/ICTSync/ndn"
	"github.com/WU-ARL/ICTSync/wire"
)

// Face connects to a forwarding hub over a websocket. The hub relays
// every frame to every other connected client, so no route
// registration handshake is needed: SetInterestFilter only installs a
// local dispatch filter.
type Face struct {
	log  *log.Entry
	conn *websocket.Conn

	jobs   chan func()
	quit   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup

	mu       sync.Mutex
	filters  []*filterEntry
	pendings map[uint64]*pendingEntry
	nextID   uint64

	sched *loopScheduler
}

type filterEntry struct {
	prefix  ndn.Name
	handler ndn.InterestHandler
	removed bool
}

type pendingEntry struct {
	id       uint64
	name     ndn.Name
	onData   ndn.DataCallback
	timer    *time.Timer
	resolved bool
}

// Dial connects to the hub at url (ws:// or wss://).
func Dial(url string) (*Face, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "facewire: dial")
	}
	f := &Face{
		log:      core.WithModule("facewire").WithField("url", url),
		conn:     conn,
		jobs:     make(chan func(), 64),
		quit:     make(chan struct{}),
		pendings: make(map[uint64]*pendingEntry),
	}
	f.sched = &loopScheduler{face: f}
	f.wg.Add(2)
	go f.runLoop()
	go f.readLoop()
	return f, nil
}

// Post enqueues fn onto the face's event loop. Application goroutines
// must use this to call any engine method that mutates engine state.
// After Close, fn is silently dropped.
func (f *Face) Post(fn func()) {
	select {
	case f.jobs <- fn:
	case <-f.quit:
	}
}

// Close tears down the connection and stops both goroutines.
// Outstanding interests never complete; their callbacks are not
// invoked. Must not be called from the event loop itself.
func (f *Face) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := f.conn.Close()
	close(f.quit)
	f.wg.Wait()
	return err
}

func (f *Face) runLoop() {
	defer f.wg.Done()
	for {
		select {
		case job := <-f.jobs:
			job()
		case <-f.quit:
			return
		}
	}
}

func (f *Face) readLoop() {
	defer f.wg.Done()
	for {
		messageType, frame, err := f.conn.ReadMessage()
		if err != nil {
			if !f.closed.Load() {
				f.log.WithError(err).Warn("websocket read failed; face is dead")
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		interest, data, err := wire.ParsePacket(frame)
		if err != nil {
			f.log.WithError(err).Debug("dropping unparseable frame")
			continue
		}
		job := func() { f.dispatchData(data) }
		if interest != nil {
			job = func() { f.dispatchInterest(interest) }
		}
		select {
		case f.jobs <- job:
		case <-f.quit:
			return
		}
	}
}

func (f *Face) writeFrame(buf []byte) error {
	if f.closed.Load() {
		return errors.New("facewire: face is closed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return errors.Wrap(f.conn.WriteMessage(websocket.BinaryMessage, buf), "facewire: write")
}

// SetInterestFilter installs a local dispatch filter for prefix. The
// returned handle removes it again; onRegisterFail is never invoked
// since there is no registration handshake to fail after dialing
// succeeded.
func (f *Face) SetInterestFilter(prefix ndn.Name, onInterest ndn.InterestHandler, onRegisterFail ndn.RegisterFailureCallback) (ndn.RegisteredPrefix, error) {
	entry := &filterEntry{prefix: prefix.Clone(), handler: onInterest}
	f.mu.Lock()
	f.filters = append(f.filters, entry)
	f.mu.Unlock()
	return &filterHandle{face: f, entry: entry}, nil
}

type filterHandle struct {
	face  *Face
	entry *filterEntry
}

func (h *filterHandle) Cancel() error {
	h.face.mu.Lock()
	defer h.face.mu.Unlock()
	h.entry.removed = true
	for i, e := range h.face.filters {
		if e == h.entry {
			h.face.filters = append(h.face.filters[:i], h.face.filters[i+1:]...)
			break
		}
	}
	return nil
}

// ExpressInterest writes the interest to the hub and tracks it until
// data arrives or the lifetime elapses. onData is invoked on the event
// loop exactly once unless the handle is cancelled first. A zero
// lifetime starts no timer, so such an interest completes only if
// matching data arrives.
func (f *Face) ExpressInterest(interest *ndn.Interest, onData ndn.DataCallback) (ndn.PendingInterest, error) {
	buf := wire.EncodeInterest(interest)
	err := f.writeFrame(buf.Bytes)
	buf.Release()
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.nextID++
	entry := &pendingEntry{id: f.nextID, name: interest.Name.Clone(), onData: onData}
	f.pendings[entry.id] = entry
	if interest.Lifetime > 0 {
		entry.timer = time.AfterFunc(interest.Lifetime, func() {
			f.Post(func() { f.timeoutPending(entry) })
		})
	}
	f.mu.Unlock()
	return &pendingHandle{face: f, entry: entry}, nil
}

type pendingHandle struct {
	face  *Face
	entry *pendingEntry
}

func (h *pendingHandle) Cancel() error {
	h.face.mu.Lock()
	defer h.face.mu.Unlock()
	h.face.dropPendingLocked(h.entry)
	return nil
}

func (f *Face) dropPendingLocked(entry *pendingEntry) {
	if entry.resolved {
		return
	}
	entry.resolved = true
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(f.pendings, entry.id)
}

// timeoutPending runs on the event loop.
func (f *Face) timeoutPending(entry *pendingEntry) {
	f.mu.Lock()
	if entry.resolved {
		f.mu.Unlock()
		return
	}
	f.dropPendingLocked(entry)
	f.mu.Unlock()
	entry.onData(ndn.ResultTimeout, nil)
}

// Put broadcasts a data packet to the hub unsolicited, satisfying any
// remote participant whose interest for that name is outstanding.
func (f *Face) Put(data *ndn.Data) error {
	buf := wire.EncodeData(data)
	err := f.writeFrame(buf.Bytes)
	buf.Release()
	return err
}

// Scheduler returns a scheduler whose callbacks run on the face's
// event loop.
func (f *Face) Scheduler() ndn.Scheduler {
	return f.sched
}

// dispatchInterest runs on the event loop: hand the interest to the
// first matching filter. The reply function writes the data frame back
// through the hub so every participant, not just the asker, sees it.
func (f *Face) dispatchInterest(interest *ndn.Interest) {
	f.mu.Lock()
	var match *filterEntry
	for _, e := range f.filters {
		if e.prefix.IsPrefixOf(interest.Name) {
			match = e
			break
		}
	}
	f.mu.Unlock()
	if match == nil || match.removed {
		return
	}
	match.handler(interest, f.Put)
}

// dispatchData runs on the event loop: resolve every pending interest
// whose name matches, then stop tracking them.
func (f *Face) dispatchData(data *ndn.Data) {
	f.mu.Lock()
	var matched []*pendingEntry
	for _, e := range f.pendings {
		if e.name.Equal(data.Name) || e.name.IsPrefixOf(data.Name) {
			matched = append(matched, e)
		}
	}
	for _, e := range matched {
		f.dropPendingLocked(e)
	}
	f.mu.Unlock()
	for _, e := range matched {
		e.onData(ndn.ResultData, data)
	}
}

// loopScheduler delivers timer callbacks on the face's event loop.
type loopScheduler struct {
	face *Face
}

type scheduledEvent struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

func (s *loopScheduler) Schedule(delay time.Duration, callback func()) ndn.ScheduledEvent {
	ev := &scheduledEvent{}
	ev.timer = time.AfterFunc(delay, func() {
		s.face.Post(func() {
			if !ev.cancelled.Load() {
				callback()
			}
		})
	})
	return ev
}

func (e *scheduledEvent) Cancel() {
	e.cancelled.Store(true)
	e.timer.Stop()
}
