// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package wire encodes and parses the SyncStateMsg payload carried in
// sync Data packets, plus the Interest/Data framing the websocket face
// puts on the wire. The TLV type numbers are local to this codec.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/WU-ARL/ICTSync/bufpool"
)

// ActionType distinguishes a full update (carries the producer name)
// from a discovery-mode update (name elided, resolved out-of-band).
type ActionType uint8

const (
	ActionUpdate       ActionType = 1
	ActionUpdateNoName ActionType = 2
)

// SyncState is one entry of a SyncStateMsg.
type SyncState struct {
	Type            ActionType
	Name            string // required for ActionUpdate, empty for ActionUpdateNoName
	Session         uint32
	Seq             uint32
	ApplicationInfo []byte // optional opaque blob
}

// SyncStateMsg is the full payload of a sync Data packet.
type SyncStateMsg struct {
	States []SyncState
}

// TLV type numbers for the fields of SyncState, chosen to stay clear
// of the packet-level numbers in packet.go.
const (
	tlvState   = 0xc9
	tlvType    = 0xc1
	tlvName    = 0xc2
	tlvSession = 0xc3
	tlvSeq     = 0xc4
	tlvAppInfo = 0xc5
)

// Encode serializes msg into a pooled buffer. Callers must call
// Release on the returned Buffer once they are done with the bytes
// (e.g. after Face.Put returns).
func Encode(msg SyncStateMsg) *bufpool.Buffer {
	buf := bufpool.Get()
	for _, s := range msg.States {
		entry := encodeState(s)
		writeTLV(buf, tlvState, entry)
	}
	return buf
}

func encodeState(s SyncState) []byte {
	var inner []byte
	inner = appendTLV(inner, tlvType, []byte{byte(s.Type)})
	if s.Type == ActionUpdate {
		inner = appendTLV(inner, tlvName, []byte(s.Name))
	}
	var seqno [8]byte
	binary.BigEndian.PutUint32(seqno[0:4], s.Session)
	binary.BigEndian.PutUint32(seqno[4:8], s.Seq)
	inner = appendTLV(inner, tlvSession, seqno[0:4])
	inner = appendTLV(inner, tlvSeq, seqno[4:8])
	if len(s.ApplicationInfo) > 0 {
		inner = appendTLV(inner, tlvAppInfo, s.ApplicationInfo)
	}
	return inner
}

// Parse decodes a SyncStateMsg from a Data packet's content. A parse
// failure anywhere rejects the whole payload; unlike the remote-digest
// parsing in vectorstate, there is no well-formed-prefix salvage here
// since a truncated TLV stream cannot be delimited reliably.
func Parse(content []byte) (SyncStateMsg, error) {
	var msg SyncStateMsg
	rest := content
	for len(rest) > 0 {
		typ, val, tail, err := readTLV(rest)
		if err != nil {
			return SyncStateMsg{}, fmt.Errorf("wire: %w", err)
		}
		if typ != tlvState {
			return SyncStateMsg{}, fmt.Errorf("wire: unexpected top-level type 0x%x", typ)
		}
		s, err := parseState(val)
		if err != nil {
			return SyncStateMsg{}, err
		}
		msg.States = append(msg.States, s)
		rest = tail
	}
	return msg, nil
}

func parseState(data []byte) (SyncState, error) {
	var s SyncState
	haveSession, haveSeq := false, false
	rest := data
	for len(rest) > 0 {
		typ, val, tail, err := readTLV(rest)
		if err != nil {
			return SyncState{}, fmt.Errorf("wire: %w", err)
		}
		switch typ {
		case tlvType:
			if len(val) != 1 {
				return SyncState{}, fmt.Errorf("wire: malformed type field")
			}
			s.Type = ActionType(val[0])
		case tlvName:
			s.Name = string(val)
		case tlvSession:
			if len(val) != 4 {
				return SyncState{}, fmt.Errorf("wire: malformed session field")
			}
			s.Session = binary.BigEndian.Uint32(val)
			haveSession = true
		case tlvSeq:
			if len(val) != 4 {
				return SyncState{}, fmt.Errorf("wire: malformed seq field")
			}
			s.Seq = binary.BigEndian.Uint32(val)
			haveSeq = true
		case tlvAppInfo:
			s.ApplicationInfo = append([]byte(nil), val...)
		default:
			// Unknown field: ignore, forward-compatible with a future
			// field addition (same tolerance NDN TLV parsers apply).
		}
		rest = tail
	}
	if !haveSession || !haveSeq {
		return SyncState{}, fmt.Errorf("wire: SyncState missing seqno")
	}
	if s.Type == ActionUpdate && s.Name == "" {
		return SyncState{}, fmt.Errorf("wire: UPDATE missing name")
	}
	return s, nil
}

func appendTLV(dst []byte, typ byte, val []byte) []byte {
	dst = append(dst, typ)
	dst = appendVarLen(dst, len(val))
	dst = append(dst, val...)
	return dst
}

func writeTLV(buf *bufpool.Buffer, typ byte, val []byte) {
	buf.Bytes = append(buf.Bytes, typ)
	buf.Bytes = appendVarLen(buf.Bytes, len(val))
	buf.Bytes = append(buf.Bytes, val...)
}

// appendVarLen encodes a length using the NDN TLV VAR-NUMBER scheme:
// values under 0xfd encode as a single byte; 0xfd/0xfe introduce an
// unambiguous 2- or 4-byte big-endian length.
func appendVarLen(dst []byte, n int) []byte {
	switch {
	case n < 0xfd:
		return append(dst, byte(n))
	case n <= 0xffff:
		dst = append(dst, 0xfd)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		return append(dst, b[:]...)
	default:
		dst = append(dst, 0xfe)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		return append(dst, b[:]...)
	}
}

func readTLV(data []byte) (typ byte, val []byte, rest []byte, err error) {
	if len(data) < 2 {
		return 0, nil, nil, fmt.Errorf("truncated TLV header")
	}
	typ = data[0]
	n, hdrLen, err := readVarLen(data[1:])
	if err != nil {
		return 0, nil, nil, err
	}
	start := 1 + hdrLen
	end := start + n
	if end > len(data) {
		return 0, nil, nil, fmt.Errorf("truncated TLV value")
	}
	return typ, data[start:end], data[end:], nil
}

func readVarLen(data []byte) (n int, consumed int, err error) {
	if len(data) < 1 {
		return 0, 0, fmt.Errorf("truncated TLV length")
	}
	switch data[0] {
	case 0xfd:
		if len(data) < 3 {
			return 0, 0, fmt.Errorf("truncated TLV length")
		}
		return int(binary.BigEndian.Uint16(data[1:3])), 3, nil
	case 0xfe:
		if len(data) < 5 {
			return 0, 0, fmt.Errorf("truncated TLV length")
		}
		return int(binary.BigEndian.Uint32(data[1:5])), 5, nil
	case 0xff:
		return 0, 0, fmt.Errorf("TLV length exceeds supported range")
	default:
		return int(data[0]), 1, nil
	}
}
