// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package keychain provides the digest-only ndn.KeyChain the demo
// deployment signs with. It offers integrity, not authenticity;
// deployments that need real signatures supply their own KeyChain
// implementation to the engine.
package keychain

import (
	"crypto/sha256"

	"github.com/WU-ARL/ICTSync/ndn"
)

// Digest signs packets with a bare SHA-256 over name and content.
type Digest struct{}

// NewDigest returns a digest-signing keychain.
func NewDigest() Digest { return Digest{} }

// Sign populates data.SigInfo. certificateName is recorded as the key
// name when present; a digest signature has no real signing identity.
func (Digest) Sign(data *ndn.Data, certificateName ndn.Name) error {
	h := sha256.New()
	for _, component := range data.Name {
		h.Write([]byte(component))
		h.Write([]byte{0x00})
	}
	h.Write(data.Content)
	data.SigInfo = ndn.Signature{
		Type:    "DigestSha256",
		KeyName: certificateName.Clone(),
		Value:   h.Sum(nil),
	}
	return nil
}
