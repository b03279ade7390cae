// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package ndn

// RegisteredPrefix is a scoped handle returned by Face.SetInterestFilter.
// Cancel unregisters the prefix, so a registration never outlives its
// owner.
type RegisteredPrefix interface {
	Cancel() error
}

// PendingInterest is a scoped handle for an expressed Interest.
// Expressing a new Interest on the same logical slot should Cancel the
// previous handle first.
type PendingInterest interface {
	Cancel() error
}

// RegisterFailureCallback reports that prefix registration failed,
// surfaced verbatim to the application.
type RegisterFailureCallback func(prefix Name, reason string)

// Face is the host-provided transport collaborator. The sync core only
// ever calls these four methods; it never touches a socket, TLV wire,
// or signature directly.
type Face interface {
	SetInterestFilter(prefix Name, onInterest InterestHandler, onRegisterFail RegisterFailureCallback) (RegisteredPrefix, error)
	ExpressInterest(interest *Interest, onData DataCallback) (PendingInterest, error)
	Put(data *Data) error
	Scheduler() Scheduler
}
