// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package ndn

// KeyChain is the host-provided signing collaborator. Signing
// internals, key material, and certificate management live entirely on
// the host side; the sync core treats Sign as an opaque side effect on
// the Data packet.
type KeyChain interface {
	// Sign populates data.SigInfo. An empty certificateName selects
	// the keychain's default identity.
	Sign(data *Data, certificateName Name) error
}
