// Copyright 2025 The ktrap Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cpu

import (
	"sync"

	hostcpu "golang.org/x/sys/cpu"
)

// SaveVectors saves the volatile vector registers by the most efficient
// mechanism available (set on first CPU creation).
var SaveVectors func(c *CPU, dst *[6]XMMRegister)

// LoadVectors restores the volatile vector registers.
var LoadVectors func(c *CPU, src *[6]XMMRegister)

var (
	mechanism     string
	mechanismOnce sync.Once
)

// copyVectors models fxsave64/xsave: an unconditional store of the vector
// state.
func copyVectors(c *CPU, dst *[6]XMMRegister) {
	*dst = c.Xmm
}

// xsaveoptVectors models xsaveopt: components whose saved image already
// matches the live state are skipped.
func xsaveoptVectors(c *CPU, dst *[6]XMMRegister) {
	if *dst == c.Xmm {
		return
	}
	*dst = c.Xmm
}

func restoreVectors(c *CPU, src *[6]XMMRegister) {
	c.Xmm = *src
}

// initMechanism selects the vector save/restore mechanism from host
// features. Called before the first CPU is handed out.
func initMechanism() {
	mechanismOnce.Do(func() {
		switch {
		case hostcpu.X86.HasOSXSAVE && hostcpu.X86.HasAVX:
			mechanism = "xsaveopt"
			SaveVectors = xsaveoptVectors
		case hostcpu.X86.HasOSXSAVE:
			mechanism = "xsave"
			SaveVectors = copyVectors
		default:
			mechanism = "fxsave"
			SaveVectors = copyVectors
		}
		LoadVectors = restoreVectors
	})
}

// VectorMechanism names the selected save/restore mechanism.
func VectorMechanism() string {
	initMechanism()
	return mechanism
}
