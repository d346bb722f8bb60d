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

//go:build checkinvariants

package trap

import (
	"ktrap.dev/ktrap/pkg/cpu"
)

// Debug-build invariant checks. A failure stops the processor; these
// conditions indicate corrupted trap state, and resuming would turn a
// detectable bug into silent memory corruption.

// assertPassive checks that the priority level is passive at a
// user-mode boundary. User code cannot run at a raised level.
func assertPassive(c *cpu.CPU) {
	if irql := c.ReadCR8(); irql != cpu.PassiveLevel {
		c.Breakpoint("IRQL %d at user-mode boundary, expected passive", irql)
	}
}

// assertIRQLValid checks that the frame's recorded previous priority
// level matches the live priority register. A mismatch means the
// handler raised or lowered the level and did not put it back.
func assertIRQLValid(c *cpu.CPU, f *Frame) {
	if irql := c.ReadCR8(); irql != f.PreviousIRQL {
		c.Breakpoint("IRQL %d does not match trap frame previous IRQL %d", irql, f.PreviousIRQL)
	}
}

// assertInterruptsEnabled checks that the context being resumed in user
// mode will run with interrupts enabled. User code that cannot be
// interrupted can never be preempted.
func assertInterruptsEnabled(c *cpu.CPU, f *Frame) {
	if f.EFlags&cpu.FlagIF == 0 {
		c.Breakpoint("user-mode resume with interrupts disabled, eflags %#x", f.EFlags)
	}
}

// recordGSBase stamps the per-CPU base into the frame for postmortem
// use.
func recordGSBase(c *cpu.CPU, f *Frame) {
	f.GsBase = c.GSBase()
}
