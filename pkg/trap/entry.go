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

// enter builds a trap frame from the machine frame the hardware pushed.
//
// Interrupts are hardware-disabled for the entire duration. On return
// the frame is fully populated and the frame-base register addresses it;
// the handler receives the frame as its sole argument.
func enter(c *cpu.CPU, p Policy) *Frame {
	// Extend the allocation to the full canonical frame. The machine
	// frame already occupies the top.
	base := c.Regs.Rsp - p.machineFrameOffset()
	f := frameAt(c, base)
	c.Regs.Rsp = base

	// Anchor the frame and re-point the frame base at it; every
	// subsequent field access is base-relative.
	f.Rbp = c.Regs.Rbp
	f.Rax = c.Regs.Rax
	c.Regs.Rbp = base

	if p&SaveNonVolatile != 0 {
		f.Rbx = c.Regs.Rbx
		f.Rdi = c.Regs.Rdi
		f.Rsi = c.Regs.Rsi
		f.R12 = c.Regs.R12
		f.R13 = c.Regs.R13
		f.R14 = c.Regs.R14
		f.R15 = c.Regs.R15
	}

	if p&SaveVolatile != 0 {
		f.Rcx = c.Regs.Rcx
		f.Rdx = c.Regs.Rdx
		f.R8 = c.Regs.R8
		f.R9 = c.Regs.R9
		f.R10 = c.Regs.R10
		f.R11 = c.Regs.R11
	}

	if p&SaveVector != 0 {
		cpu.SaveVectors(c, &f.Xmm)
	}

	if p&SaveSegments != 0 {
		f.SegDs = c.SegDs
		f.SegEs = c.SegEs
		f.SegFs = c.SegFs
		f.SegGs = c.SegGs
	}

	f.MxCsr = c.Stmxcsr()

	recordGSBase(c, f)

	if f.SegCs&1 != 0 {
		f.PreviousMode = UserMode
	} else {
		f.PreviousMode = KernelMode
	}

	if f.PreviousMode == UserMode {
		// Kernel code must not run on user selectors or the user
		// per-CPU base.
		c.SegDs = cpu.Kdata
		c.SegEs = cpu.Kdata
		c.Swapgs()
		c.LoadKernelMXCSR()
		assertPassive(c)
	}

	// Recorded regardless of the RestoreIRQL bit.
	f.PreviousIRQL = c.ReadCR8()

	if p&SaveDebugRegisters != 0 {
		f.Dr0 = c.ReadDR(0)
		f.Dr1 = c.ReadDR(1)
		f.Dr2 = c.ReadDR(2)
		f.Dr3 = c.ReadDR(3)
		f.Dr6 = c.ReadDR(6)
		f.Dr7 = c.ReadDR(7)
	}

	// All kernel code runs with the direction flag clear.
	c.Cld()

	return f
}
