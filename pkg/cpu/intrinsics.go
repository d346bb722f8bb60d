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

// This file is the privileged-instruction boundary. Each method stands in
// for a single instruction (or fixed instruction pair) on hardware.

// ReadCR8 reads the priority-control register.
func (c *CPU) ReadCR8() IRQL {
	return c.cr8
}

// WriteCR8 writes the priority-control register.
func (c *CPU) WriteCR8(level IRQL) {
	c.cr8 = level
}

// Swapgs exchanges the active GS base with the shadow GS base.
func (c *CPU) Swapgs() {
	c.gsBase, c.gsShadow = c.gsShadow, c.gsBase
}

// GSBase returns the active GS base.
func (c *CPU) GSBase() uint64 {
	return c.gsBase
}

// Cli disables interrupts.
func (c *CPU) Cli() {
	c.Regs.Eflags &^= FlagIF
}

// Sti enables interrupts.
func (c *CPU) Sti() {
	c.Regs.Eflags |= FlagIF
}

// Cld clears the string-operation direction flag.
func (c *CPU) Cld() {
	c.Regs.Eflags &^= FlagDF
}

// InterruptsEnabled returns whether the interrupt flag is set.
func (c *CPU) InterruptsEnabled() bool {
	return c.Regs.Eflags&FlagIF != 0
}

// Stmxcsr reads the MXCSR control and status register.
func (c *CPU) Stmxcsr() uint32 {
	return c.mxcsr
}

// Ldmxcsr writes the MXCSR control and status register.
func (c *CPU) Ldmxcsr(v uint32) {
	c.mxcsr = v
}

// LoadKernelMXCSR loads the control configuration all kernel code runs
// with.
func (c *CPU) LoadKernelMXCSR() {
	c.mxcsr = c.kernelMXCSR
}

// ReadDR reads debug register n. Registers 4 and 5 do not exist.
func (c *CPU) ReadDR(n int) uint64 {
	if n == 4 || n == 5 || n < 0 || n > 7 {
		panic(fmt.Sprintf("read of invalid debug register dr%d", n))
	}
	return c.dr[n]
}

// WriteDR writes debug register n. Registers 4 and 5 do not exist.
func (c *CPU) WriteDR(n int, v uint64) {
	if n == 4 || n == 5 || n < 0 || n > 7 {
		panic(fmt.Sprintf("write of invalid debug register dr%d", n))
	}
	c.dr[n] = v
}

// Iretq atomically reloads the instruction pointer, code segment, flags,
// stack pointer and stack segment, resuming the interrupted context.
func (c *CPU) Iretq(rip, cs, eflags, rsp, ss uint64) {
	c.Regs.Rip = rip
	c.Regs.Cs = cs
	c.Regs.Eflags = eflags
	c.Regs.Rsp = rsp
	c.Regs.Ss = ss
}

// Breakpoint executes an immediate, unconditional breakpoint trap. It
// never returns and must not be recovered from; the panic value is a
// *BreakpointFault.
func (c *CPU) Breakpoint(format string, args ...any) {
	panic(&BreakpointFault{CPU: c.id, Reason: fmt.Sprintf(format, args...)})
}
