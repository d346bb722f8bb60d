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

// Package cpu models one amd64 execution unit and the privileged
// operations the trap protocol needs from it.
//
// Everything above this package is ordinary structured code operating on
// trap frames; everything privileged (priority register, GS base swap,
// the return-from-interrupt operation, control word loads) is an
// intrinsic here. State is per-CPU and never shared between execution
// contexts, so no locking is required.
package cpu

import (
	"unsafe"

	"ktrap.dev/ktrap/pkg/apic"
)

const (
	// DefaultStackSize is the size of the per-CPU kernel stack.
	DefaultStackSize = 16 << 10

	// stackBase is the virtual address at which the kernel stack is
	// placed. Stacks of distinct CPUs are spaced one stack apart.
	stackBase uint64 = 0xffff_f800_0000_0000

	// pcrBase is the virtual address region holding per-CPU control
	// blocks; the kernel GS base of CPU n points into it.
	pcrBase uint64 = 0xffff_f780_0000_0000

	// defaultMXCSR is the reset value of the MXCSR register: all
	// exceptions masked, round to nearest.
	defaultMXCSR uint32 = 0x1f80
)

// PCR is the per-processor control block. The trap layer only reads it.
type PCR struct {
	// CurrentThread is the thread running on this processor, if any.
	CurrentThread *Thread
}

// CPU models a single execution unit.
type CPU struct {
	// Regs is the live integer register file.
	Regs Registers

	// Xmm is the volatile half of the vector register file (xmm0-xmm5).
	Xmm [6]XMMRegister

	// Data segment selectors.
	SegDs Selector
	SegEs Selector
	SegFs Selector
	SegGs Selector

	id    uint32
	cr8   IRQL
	mxcsr uint32

	// kernelMXCSR is the control configuration all kernel code runs
	// with, loaded on entry from user code. Initialized once and never
	// changed.
	kernelMXCSR uint32

	// dr holds the debug registers; only 0-3, 6 and 7 exist.
	dr [8]uint64

	// gsBase is the active GS base; gsShadow is the inactive one that a
	// GS swap exchanges it with.
	gsBase   uint64
	gsShadow uint64

	// stack is the kernel stack, addressed at stackBase for this CPU.
	stack []uint64

	pcr   *PCR
	lapic *apic.LAPIC
}

// New returns an initialized CPU in kernel context at passive level.
func New(id uint32) *CPU {
	initMechanism()

	c := &CPU{
		id:          id,
		mxcsr:       defaultMXCSR,
		kernelMXCSR: defaultMXCSR,
		stack:       make([]uint64, DefaultStackSize/8),
		pcr:         &PCR{},
		lapic:       apic.New(id),
	}
	c.gsBase = pcrBase + uint64(id)<<12
	c.Regs.Eflags = KernelFlagsSet
	c.Regs.Cs = uint64(Kcode)
	c.Regs.Ss = uint64(Kdata)
	c.SegDs = Kdata
	c.SegEs = Kdata
	c.Regs.Rsp = c.StackTop()
	return c
}

// ID returns the CPU number.
func (c *CPU) ID() uint32 {
	return c.id
}

// PCR returns the per-processor control block.
func (c *CPU) PCR() *PCR {
	return c.pcr
}

// LAPIC returns the CPU's local interrupt controller.
func (c *CPU) LAPIC() *apic.LAPIC {
	return c.lapic
}

// KernelGSBase is the GS base value addressing this CPU's kernel state.
func (c *CPU) KernelGSBase() uint64 {
	return pcrBase + uint64(c.id)<<12
}

// SetUserGSBase sets the user-mode GS base that will be swapped in when
// returning to user code. The CPU must currently be in kernel GS
// orientation.
func (c *CPU) SetUserGSBase(base uint64) {
	c.gsShadow = base
}

// StackBottom returns the lowest valid kernel stack address.
func (c *CPU) StackBottom() uint64 {
	return stackBase + uint64(c.id)*DefaultStackSize
}

// StackTop returns the kernel's stack address.
func (c *CPU) StackTop() uint64 {
	return c.StackBottom() + uint64(len(c.stack))*8
}

// checkStack validates that [addr, addr+length) is 8-aligned kernel stack
// memory. A violation is a double-fault condition, outside the trap
// protocol's jurisdiction, and aborts the emulation.
func (c *CPU) checkStack(addr, length uint64) {
	if addr%8 != 0 || addr < c.StackBottom() || addr+length > c.StackTop() {
		panic("kernel stack overflow")
	}
}

// StackMemory returns the backing memory for [addr, addr+length) of the
// kernel stack. The span must be 8-aligned and in bounds.
func (c *CPU) StackMemory(addr, length uint64) unsafe.Pointer {
	c.checkStack(addr, length)
	return unsafe.Pointer(&c.stack[(addr-c.StackBottom())/8])
}

// Push64 pushes one machine word onto the stack addressed by RSP.
func (c *CPU) Push64(v uint64) {
	c.Regs.Rsp -= 8
	*(*uint64)(c.StackMemory(c.Regs.Rsp, 8)) = v
}

// SwitchToUser leaves the CPU as if it had just resumed an application
// context: user selectors, user GS base active, interrupts enabled,
// passive level. The CPU must be in kernel context.
func (c *CPU) SwitchToUser(rip, rsp uint64) {
	c.Regs.Rip = rip
	c.Regs.Rsp = rsp
	c.Regs.Cs = uint64(Ucode64)
	c.Regs.Ss = uint64(Udata)
	c.SegDs = Udata
	c.SegEs = Udata
	c.Regs.Eflags |= FlagIF
	c.WriteCR8(PassiveLevel)
	c.Swapgs()
}
