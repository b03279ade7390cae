// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package ndn

import "time"

// ScheduledEvent cancels a pending Scheduler callback.
type ScheduledEvent interface {
	Cancel()
}

// Scheduler is the host-provided timer collaborator backing the
// engine's periodic re-expression and suppression timers. Every
// callback it invokes must run on the same event loop as Face
// callbacks; the sync core relies on that single-thread guarantee and
// performs no locking of its own.
type Scheduler interface {
	Schedule(delay time.Duration, callback func()) ScheduledEvent
}
