// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package core

import "errors"

// Sentinel errors shared across packages. Package-specific errors live
// next to the code that raises them and are wrapped with
// github.com/pkg/errors before crossing a package boundary.
var (
	// ErrShutdown is returned by Engine.Publish and Engine.Reregister
	// when the engine is not running: after Shutdown(), or before Start.
	ErrShutdown = errors.New("ictsync: engine is shut down")

	// ErrSequenceRegression names a monotone sequence number moving
	// backward or sideways. Nothing in this module returns it:
	// VectorState.Update reports such an attempt by returning false.
	ErrSequenceRegression = errors.New("ictsync: sequence number must strictly increase")

	// ErrNotConfigured is returned, wrapped, by sync.New when a required
	// Config field is missing.
	ErrNotConfigured = errors.New("ictsync: component not fully configured")
)
