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

package trap

import (
	"ktrap.dev/ktrap/pkg/cpu"
)

// exit consumes the trap frame and resumes the interrupted context.
//
// The policy must be the one the frame was built with; a mismatch is a
// caller error with undefined behavior. The handler may have modified
// any saved field, including the return address and the saved code
// segment, which decides the privilege being returned to.
func exit(c *cpu.CPU, f *Frame, p Policy) {
	base := c.Regs.Rsp

	assertIRQLValid(c, f)

	if p&SaveSegments != 0 {
		c.SegDs = f.SegDs
		c.SegEs = f.SegEs
		c.SegFs = f.SegFs
		c.SegGs = f.SegGs
	}

	if p&RestoreIRQL != 0 {
		c.WriteCR8(f.PreviousIRQL)
	}

	if f.SegCs&1 != 0 {
		// Returning to user mode. Pending work runs first: the delivery
		// routine may clobber any register not yet restored.
		if p&CheckPendingWork != 0 {
			deliverPendingWork(c.PCR().CurrentThread, f)
		}
		assertInterruptsEnabled(c, f)
		assertPassive(c)
		c.Cli()
		c.Swapgs()
	}

	if p&SaveNonVolatile != 0 {
		c.Regs.Rbx = f.Rbx
		c.Regs.Rdi = f.Rdi
		c.Regs.Rsi = f.Rsi
		c.Regs.R12 = f.R12
		c.Regs.R13 = f.R13
		c.Regs.R14 = f.R14
		c.Regs.R15 = f.R15
	}

	if p&SaveVolatile != 0 {
		c.Regs.Rax = f.Rax
		c.Regs.Rcx = f.Rcx
		c.Regs.Rdx = f.Rdx
		c.Regs.R8 = f.R8
		c.Regs.R9 = f.R9
		c.Regs.R10 = f.R10
		c.Regs.R11 = f.R11
	}

	if p&SaveVector != 0 {
		cpu.LoadVectors(c, &f.Xmm)
	}

	if p&SaveDebugRegisters != 0 {
		c.WriteDR(0, f.Dr0)
		c.WriteDR(1, f.Dr1)
		c.WriteDR(2, f.Dr2)
		c.WriteDR(3, f.Dr3)
		c.WriteDR(6, f.Dr6)
		c.WriteDR(7, f.Dr7)
	}

	c.Ldmxcsr(f.MxCsr)

	c.Regs.Rbp = f.Rbp

	// Collapse the stack to just below the machine frame.
	c.Regs.Rsp = base + p.machineFrameOffset()

	if p&SendEOI != 0 {
		c.LAPIC().EOI()
	}

	c.Iretq(f.Rip, f.SegCs, f.EFlags, f.Rsp, f.SegSs)
}
