// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/WU-ARL/ICTSync/bufpool"
	"github.com/WU-ARL/ICTSync/ndn"
)

// Packet-level TLV type numbers for the Interest/Data framing the
// websocket face exchanges with its peer. Each websocket binary
// message carries exactly one top-level packet TLV.
const (
	tlvInterest = 0x05
	tlvData     = 0x06

	tlvPktName        = 0x07
	tlvNameComponent  = 0x08
	tlvCanBePrefix    = 0x21
	tlvMustBeFresh    = 0x12
	tlvNonce          = 0x0a
	tlvLifetime       = 0x0c
	tlvContent        = 0x15
	tlvFreshness      = 0x25
	tlvSigType        = 0x1b
	tlvSigKeyName     = 0x1c
	tlvSigValue       = 0x17
)

func encodeName(name ndn.Name) []byte {
	var out []byte
	for _, c := range name {
		out = appendTLV(out, tlvNameComponent, []byte(c))
	}
	return out
}

func parseName(data []byte) (ndn.Name, error) {
	var name ndn.Name
	rest := data
	for len(rest) > 0 {
		typ, val, tail, err := readTLV(rest)
		if err != nil {
			return nil, err
		}
		if typ != tlvNameComponent {
			return nil, fmt.Errorf("unexpected type 0x%x inside name", typ)
		}
		name = append(name, string(val))
		rest = tail
	}
	return name, nil
}

func appendUint64(dst []byte, typ byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return appendTLV(dst, typ, b[:])
}

func parseUint64(val []byte) (uint64, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("malformed fixed-width integer")
	}
	return binary.BigEndian.Uint64(val), nil
}

// EncodeInterest serializes interest into a pooled buffer for a single
// websocket frame. Callers must Release the buffer after the frame is
// written.
func EncodeInterest(interest *ndn.Interest) *bufpool.Buffer {
	var inner []byte
	inner = appendTLV(inner, tlvPktName, encodeName(interest.Name))
	if interest.CanBePrefix {
		inner = appendTLV(inner, tlvCanBePrefix, nil)
	}
	if interest.MustBeFresh {
		inner = appendTLV(inner, tlvMustBeFresh, nil)
	}
	if interest.Nonce != 0 {
		inner = appendUint64(inner, tlvNonce, interest.Nonce)
	}
	if interest.Lifetime > 0 {
		inner = appendUint64(inner, tlvLifetime, uint64(interest.Lifetime.Milliseconds()))
	}
	buf := bufpool.Get()
	writeTLV(buf, tlvInterest, inner)
	return buf
}

// EncodeData serializes data into a pooled buffer for a single
// websocket frame. Callers must Release the buffer after the frame is
// written.
func EncodeData(data *ndn.Data) *bufpool.Buffer {
	var inner []byte
	inner = appendTLV(inner, tlvPktName, encodeName(data.Name))
	if data.Freshness > 0 {
		inner = appendUint64(inner, tlvFreshness, uint64(data.Freshness.Milliseconds()))
	}
	inner = appendTLV(inner, tlvContent, data.Content)
	if data.SigInfo.Type != "" {
		inner = appendTLV(inner, tlvSigType, []byte(data.SigInfo.Type))
		if len(data.SigInfo.KeyName) > 0 {
			inner = appendTLV(inner, tlvSigKeyName, encodeName(data.SigInfo.KeyName))
		}
		if len(data.SigInfo.Value) > 0 {
			inner = appendTLV(inner, tlvSigValue, data.SigInfo.Value)
		}
	}
	buf := bufpool.Get()
	writeTLV(buf, tlvData, inner)
	return buf
}

// ParsePacket decodes one websocket frame into either an Interest or a
// Data packet; exactly one of the two returns is non-nil on success.
func ParsePacket(frame []byte) (*ndn.Interest, *ndn.Data, error) {
	typ, val, rest, err := readTLV(frame)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	if len(rest) != 0 {
		return nil, nil, fmt.Errorf("wire: trailing bytes after packet")
	}
	switch typ {
	case tlvInterest:
		interest, err := parseInterest(val)
		return interest, nil, err
	case tlvData:
		data, err := parseData(val)
		return nil, data, err
	default:
		return nil, nil, fmt.Errorf("wire: unknown packet type 0x%x", typ)
	}
}

func parseInterest(body []byte) (*ndn.Interest, error) {
	interest := &ndn.Interest{}
	rest := body
	for len(rest) > 0 {
		typ, val, tail, err := readTLV(rest)
		if err != nil {
			return nil, fmt.Errorf("wire: %w", err)
		}
		switch typ {
		case tlvPktName:
			interest.Name, err = parseName(val)
			if err != nil {
				return nil, fmt.Errorf("wire: %w", err)
			}
		case tlvCanBePrefix:
			interest.CanBePrefix = true
		case tlvMustBeFresh:
			interest.MustBeFresh = true
		case tlvNonce:
			interest.Nonce, err = parseUint64(val)
			if err != nil {
				return nil, fmt.Errorf("wire: %w", err)
			}
		case tlvLifetime:
			ms, err := parseUint64(val)
			if err != nil {
				return nil, fmt.Errorf("wire: %w", err)
			}
			interest.Lifetime = time.Duration(ms) * time.Millisecond
		default:
			// Unknown field: skip, forward-compatible.
		}
		rest = tail
	}
	if len(interest.Name) == 0 {
		return nil, fmt.Errorf("wire: interest missing name")
	}
	return interest, nil
}

func parseData(body []byte) (*ndn.Data, error) {
	data := &ndn.Data{}
	rest := body
	for len(rest) > 0 {
		typ, val, tail, err := readTLV(rest)
		if err != nil {
			return nil, fmt.Errorf("wire: %w", err)
		}
		switch typ {
		case tlvPktName:
			data.Name, err = parseName(val)
			if err != nil {
				return nil, fmt.Errorf("wire: %w", err)
			}
		case tlvFreshness:
			ms, err := parseUint64(val)
			if err != nil {
				return nil, fmt.Errorf("wire: %w", err)
			}
			data.Freshness = time.Duration(ms) * time.Millisecond
		case tlvContent:
			data.Content = append([]byte(nil), val...)
		case tlvSigType:
			data.SigInfo.Type = string(val)
		case tlvSigKeyName:
			data.SigInfo.KeyName, err = parseName(val)
			if err != nil {
				return nil, fmt.Errorf("wire: %w", err)
			}
		case tlvSigValue:
			data.SigInfo.Value = append([]byte(nil), val...)
		default:
			// Unknown field: skip, forward-compatible.
		}
		rest = tail
	}
	if len(data.Name) == 0 {
		return nil, fmt.Errorf("wire: data missing name")
	}
	return data, nil
}
