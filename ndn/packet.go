// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package ndn

import "time"

// Interest is the inbound/outbound request packet. Every interest the
// sync engine expresses (newcomer, sync, DISCOVERY) sets MustBeFresh
// and no other selector; CanBePrefix is carried by the wire framing but
// never set by the engine.
type Interest struct {
	Name        Name
	CanBePrefix bool
	MustBeFresh bool
	Lifetime    time.Duration
	Nonce       uint64
}

// Data is the response packet. Content carries the serialized
// SyncStateMsg (wire.Encode output); signing is applied by the
// KeyChain immediately before Face.Put.
type Data struct {
	Name      Name
	Content   []byte
	Freshness time.Duration
	SigInfo   Signature
}

// Signature is populated by KeyChain.Sign and is otherwise opaque to
// the sync core, which never verifies or produces one itself.
type Signature struct {
	Type    string
	KeyName Name
	Value   []byte
}

// InterestResult distinguishes the three ways an expressed Interest can
// resolve.
type InterestResult int

const (
	ResultData InterestResult = iota
	ResultNack
	ResultTimeout
)

// DataCallback is invoked once per expressed Interest with its outcome.
type DataCallback func(result InterestResult, data *Data)

// InterestHandler answers an inbound Interest matching a registered
// prefix. Implementations call reply to send a Data packet, or return
// without calling it to drop/park the request.
type InterestHandler func(interest *Interest, reply ReplyFunc)

// ReplyFunc sends a Data packet back through the face that delivered
// the Interest being answered.
type ReplyFunc func(data *Data) error
