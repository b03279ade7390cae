// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package keychain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WU-ARL/ICTSync/ndn"
)

func TestSignIsDeterministicOverNameAndContent(t *testing.T) {
	kc := NewDigest()
	a := &ndn.Data{Name: ndn.NameFromURI("/a/b"), Content: []byte("x")}
	b := &ndn.Data{Name: ndn.NameFromURI("/a/b"), Content: []byte("x")}
	require.NoError(t, kc.Sign(a, nil))
	require.NoError(t, kc.Sign(b, nil))
	assert.Equal(t, a.SigInfo.Value, b.SigInfo.Value)
	assert.Equal(t, "DigestSha256", a.SigInfo.Type)
}

func TestSignDistinguishesComponentBoundaries(t *testing.T) {
	kc := NewDigest()
	a := &ndn.Data{Name: ndn.NameFromURI("/ab/c")}
	b := &ndn.Data{Name: ndn.NameFromURI("/a/bc")}
	require.NoError(t, kc.Sign(a, nil))
	require.NoError(t, kc.Sign(b, nil))
	assert.NotEqual(t, a.SigInfo.Value, b.SigInfo.Value)
}
