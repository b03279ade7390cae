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

	"github.com/WU-ARL/ICTSync/ndn"
)

// fakeBus is a minimal in-memory NDN forwarder for tests: interests
// and data are delivered by queuing a job rather than calling straight
// through, so expressing an interest returns immediately and its
// completion arrives as a later callback, the way a real face behaves.
// Engine methods therefore never recurse into each other on the Go
// call stack. Call Drain after every simulated action to pump delivery
// to quiescence.
type fakeBus struct {
	filters     []*fakeFilter
	outstanding map[string][]*fakeOutstanding
	queue       []func()
}

type fakeFilter struct {
	face    *fakeFace
	prefix  ndn.Name
	handler ndn.InterestHandler
}

type fakeOutstanding struct {
	onData ndn.DataCallback
}

func newFakeBus() *fakeBus {
	return &fakeBus{outstanding: make(map[string][]*fakeOutstanding)}
}

// Drain runs every queued delivery job, including jobs newly enqueued
// by earlier ones, until none remain.
func (b *fakeBus) Drain() {
	for len(b.queue) > 0 {
		job := b.queue[0]
		b.queue = b.queue[1:]
		job()
	}
}

func (b *fakeBus) removeOutstanding(name string, entry *fakeOutstanding) {
	list := b.outstanding[name]
	for i, e := range list {
		if e == entry {
			b.outstanding[name] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (b *fakeBus) stillOutstanding(name string, entry *fakeOutstanding) bool {
	for _, e := range b.outstanding[name] {
		if e == entry {
			return true
		}
	}
	return false
}

// timeoutInterest delivers a timeout to every waiter currently parked
// under name, used by tests to simulate an unanswered interest.
func (b *fakeBus) timeoutInterest(name string) {
	list := b.outstanding[name]
	b.outstanding[name] = nil
	for _, e := range list {
		entry := e
		b.queue = append(b.queue, func() { entry.onData(ndn.ResultTimeout, nil) })
	}
}

func (b *fakeBus) hasOutstanding(name string) bool {
	return len(b.outstanding[name]) > 0
}

// fakeFace implements ndn.Face entirely in memory via a shared fakeBus.
type fakeFace struct {
	bus       *fakeBus
	scheduler *fakeScheduler
	puts      []*ndn.Data
}

func newFakeFace(bus *fakeBus) *fakeFace {
	return &fakeFace{bus: bus, scheduler: &fakeScheduler{}}
}

func (f *fakeFace) SetInterestFilter(prefix ndn.Name, onInterest ndn.InterestHandler, onRegisterFail ndn.RegisterFailureCallback) (ndn.RegisteredPrefix, error) {
	filt := &fakeFilter{face: f, prefix: prefix, handler: onInterest}
	f.bus.filters = append(f.bus.filters, filt)
	return &fakeHandle{cancel: func() {
		for i, ff := range f.bus.filters {
			if ff == filt {
				f.bus.filters = append(f.bus.filters[:i], f.bus.filters[i+1:]...)
				return
			}
		}
	}}, nil
}

func (f *fakeFace) ExpressInterest(interest *ndn.Interest, onData ndn.DataCallback) (ndn.PendingInterest, error) {
	name := interest.Name.String()
	entry := &fakeOutstanding{onData: onData}
	f.bus.outstanding[name] = append(f.bus.outstanding[name], entry)

	f.bus.queue = append(f.bus.queue, func() {
		f.deliverInterest(interest, entry, name)
	})

	return &fakeHandle{cancel: func() {
		f.bus.removeOutstanding(name, entry)
	}}, nil
}

func (f *fakeFace) deliverInterest(interest *ndn.Interest, entry *fakeOutstanding, name string) {
	if !f.bus.stillOutstanding(name, entry) {
		return
	}
	for _, filt := range f.bus.filters {
		if filt.face == f {
			continue
		}
		if !filt.prefix.IsPrefixOf(interest.Name) {
			continue
		}
		reply := func(data *ndn.Data) error {
			f.bus.removeOutstanding(name, entry)
			d := data
			f.bus.queue = append(f.bus.queue, func() { entry.onData(ndn.ResultData, d) })
			return nil
		}
		filt.handler(interest, reply)
		return
	}
}

func (f *fakeFace) Put(data *ndn.Data) error {
	f.puts = append(f.puts, data)
	key := data.Name.String()
	list := f.bus.outstanding[key]
	f.bus.outstanding[key] = nil
	for _, e := range list {
		entry := e
		d := data
		f.bus.queue = append(f.bus.queue, func() { entry.onData(ndn.ResultData, d) })
	}
	return nil
}

func (f *fakeFace) Scheduler() ndn.Scheduler { return f.scheduler }

type fakeHandle struct {
	cancel func()
}

func (h *fakeHandle) Cancel() error {
	if h.cancel != nil {
		h.cancel()
	}
	return nil
}

// fakeScheduler records scheduled callbacks without a real timer;
// tests fire them explicitly via FireAll.
type fakeScheduler struct {
	events []*fakeEvent
}

type fakeEvent struct {
	delay     time.Duration
	callback  func()
	cancelled bool
}

func (s *fakeScheduler) Schedule(delay time.Duration, callback func()) ndn.ScheduledEvent {
	ev := &fakeEvent{delay: delay, callback: callback}
	s.events = append(s.events, ev)
	return ev
}

func (e *fakeEvent) Cancel() { e.cancelled = true }

// FireAll invokes every not-yet-cancelled scheduled callback queued so
// far, without firing any callback newly scheduled by one of them
// (callers loop if they need repeated firing).
func (s *fakeScheduler) FireAll() {
	pending := s.events
	s.events = nil
	for _, ev := range pending {
		if !ev.cancelled {
			ev.callback()
		}
	}
}

type fakeKeyChain struct{}

func (fakeKeyChain) Sign(data *ndn.Data, certificateName ndn.Name) error {
	data.SigInfo = ndn.Signature{Type: "fake", KeyName: certificateName}
	return nil
}
