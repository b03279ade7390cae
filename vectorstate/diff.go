// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package vectorstate

import "strconv"

// NegativeEntry is a (session, sequence) pair the remote side knows
// about that the local table does not yet reflect.
type NegativeEntry struct {
	SessionID  uint32
	SequenceNo uint32
}

// UnknownEntry is a (session, sequence) pair present in the remote
// encoding whose session id the local table has never seen.
type UnknownEntry struct {
	SessionID  uint32
	SequenceNo uint32
}

// Diff compares the local table against remoteEncoded (the
// URI-escaped, semicolon-separated "session,seq;" list from an
// incoming interest name or data) and classifies every difference.
// positive holds indexes into the local table that the caller should
// advertise; negative and unknown hold remote pairs.
//
// Use DiffCount(positive) where an int sentinel is needed to tell
// "nothing to advertise" apart from an empty result.
//
// pushDataName reports whether any positive entry arose because the
// remote side has never heard of that session at all (as opposed to
// merely being behind on it). It is a single per-call flag, not
// per-entry: when set, the engine answers with full-name updates for
// the whole response even in discovery mode, so a peer that has never
// seen a session still learns its name.
func (v *VectorState) Diff(remoteEncoded string) (positive []int, negative []NegativeEntry, unknown []UnknownEntry, pushDataName bool) {
	remote := parseRemote(Unescape(remoteEncoded))

	// Positive set: local entries that are ahead of, or absent from,
	// the remote state. Preserves local table order.
	for i, e := range v.entries {
		found := false
		for _, r := range remote {
			if e.SessionID == r.SessionID {
				found = true
				if e.SequenceNo > r.SequenceNo {
					positive = append(positive, i)
				}
				break
			}
		}
		if !found {
			positive = append(positive, i)
			pushDataName = true
		}
	}

	// Negative and unknown sets: walked over the remote list so both
	// preserve remote order.
	for _, r := range remote {
		idx := v.FindSession(r.SessionID)
		if idx == -1 {
			unknown = append(unknown, UnknownEntry{SessionID: r.SessionID, SequenceNo: r.SequenceNo})
			continue
		}
		if v.entries[idx].SequenceNo < r.SequenceNo {
			negative = append(negative, NegativeEntry{SessionID: r.SessionID, SequenceNo: r.SequenceNo})
		}
	}

	return positive, negative, unknown, pushDataName
}

// DiffCount collapses a positive set to the sentinel convention used
// by callers that only branch on "anything to advertise".
func DiffCount(positive []int) int {
	if len(positive) == 0 {
		return -1
	}
	return len(positive)
}

type remotePair struct {
	SessionID  uint32
	SequenceNo uint32
}

// parseRemote parses a semicolon-separated "session,seq" list. A parse
// failure on any element truncates the result to the well-formed
// prefix; the remainder is ignored rather than failing the whole diff.
func parseRemote(s string) []remotePair {
	var out []remotePair
	start := 0
	for start < len(s) {
		end := start
		for end < len(s) && s[end] != ';' {
			end++
		}
		if end >= len(s) {
			// No closing ';': malformed trailing fragment, stop.
			break
		}
		chunk := s[start:end]
		pair, ok := parsePair(chunk)
		if !ok {
			break
		}
		out = append(out, pair)
		start = end + 1
	}
	return out
}

func parsePair(chunk string) (remotePair, bool) {
	comma := -1
	for i := 0; i < len(chunk); i++ {
		if chunk[i] == ',' {
			comma = i
			break
		}
	}
	if comma < 0 {
		return remotePair{}, false
	}
	sid, err := strconv.ParseUint(chunk[:comma], 10, 32)
	if err != nil {
		return remotePair{}, false
	}
	seq, err := strconv.ParseUint(chunk[comma+1:], 10, 32)
	if err != nil {
		return remotePair{}, false
	}
	return remotePair{SessionID: uint32(sid), SequenceNo: uint32(seq)}, true
}

// Unescape decodes percent-encoded octets ("%HH") left to right. A "%"
// not followed by two hex digits is copied through verbatim rather
// than treated as an error, so a malformed escape never aborts the
// diff, only fails to decode that one triplet.
func Unescape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi := fromHex(s[i+1])
			lo := fromHex(s[i+2])
			if hi < 0 || lo < 0 {
				out = append(out, s[i], s[i+1], s[i+2])
			} else {
				out = append(out, byte(16*hi+lo))
			}
			i += 2
		} else {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func fromHex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return -1
	}
}

// Escape percent-encodes the root for placement as a name component,
// escaping everything outside of unreserved-URI characters so commas
// and semicolons survive transit. It is the dual of Unescape.
func Escape(s string) string {
	const hex = "0123456789ABCDEF"
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			out = append(out, c)
		} else {
			out = append(out, '%', hex[c>>4], hex[c&0xf])
		}
	}
	return string(out)
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}
