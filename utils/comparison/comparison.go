// Copyright 2024 Washington University in St. Louis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package comparison holds small generic helpers shared across the
// module.
package comparison

import "golang.org/x/exp/constraints"

func Min[V constraints.Ordered](a, b V) V {
	if a < b {
		return a
	}
	return b
}

func Max[V constraints.Ordered](a, b V) V {
	if a > b {
		return a
	}
	return b
}
