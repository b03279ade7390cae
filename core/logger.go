// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package core holds process-wide concerns (logging, sentinel errors)
// shared by every other package in this module.
package core

import (
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
)

var logLevel = log.InfoLevel

// SetupLogging installs the text handler on stdout and parses level,
// defaulting to INFO on an unrecognized string. Call once at process
// start; library packages must not call this themselves.
func SetupLogging(level string) {
	log.SetHandler(text.New(os.Stdout))

	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	logLevel = parsed
	log.SetLevel(logLevel)
}

// WithModule returns a logger entry tagged with the emitting component,
// the way every subsystem in this module should identify itself.
func WithModule(module string) *log.Entry {
	return log.WithField("module", module)
}
