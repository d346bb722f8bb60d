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
	"fmt"
)

// BreakpointFault is the panic value of the Breakpoint intrinsic. It marks
// an invariant violation; there is no recovery path and no return, so it
// must never be swallowed by a recover outside of tests.
type BreakpointFault struct {
	// CPU is the execution unit that hit the breakpoint.
	CPU uint32

	// Reason describes the violated invariant.
	Reason string
}

func (f *BreakpointFault) String() string {
	return fmt.Sprintf("cpu%d: breakpoint: %s", f.CPU, f.Reason)
}
