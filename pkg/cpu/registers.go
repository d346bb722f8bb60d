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

// Registers is the integer register file.
type Registers struct {
	Rax uint64
	Rbx uint64
	Rcx uint64
	Rdx uint64
	Rsi uint64
	Rdi uint64
	Rbp uint64
	Rsp uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	Rip    uint64
	Eflags uint64
	Cs     uint64
	Ss     uint64
}

// XMMRegister is one 128-bit vector register.
type XMMRegister [2]uint64

// Selector is a segment selector.
type Selector uint16

// Selector values, low bit encoding the privilege of the running code.
const (
	// Kcode is the kernel code selector.
	Kcode Selector = 0x08

	// Kdata is the kernel data selector.
	Kdata Selector = 0x10

	// Ucode32 is the 32-bit user code selector.
	Ucode32 Selector = 0x1b

	// Udata is the user data selector.
	Udata Selector = 0x23

	// Ucode64 is the 64-bit user code selector.
	Ucode64 Selector = 0x2b
)

// RFLAGS bits.
const (
	// FlagReserved is always set in RFLAGS.
	FlagReserved uint64 = 1 << 1

	// FlagIF is the interrupt enable flag.
	FlagIF uint64 = 1 << 9

	// FlagDF is the string-operation direction flag.
	FlagDF uint64 = 1 << 10

	// KernelFlagsSet is the flags state all kernel code runs with.
	KernelFlagsSet = FlagReserved
)

// IRQL is the processor's interrupt-masking priority level. Higher values
// mask more interrupt sources.
type IRQL uint8

// IRQL values.
const (
	// PassiveLevel is the lowest level; all interrupts are unmasked.
	PassiveLevel IRQL = 0

	// APCLevel masks asynchronous procedure call delivery.
	APCLevel IRQL = 1

	// DispatchLevel masks the dispatcher.
	DispatchLevel IRQL = 2

	// ClockLevel masks the clock interrupt.
	ClockLevel IRQL = 13

	// IPILevel masks inter-processor interrupts.
	IPILevel IRQL = 14

	// HighLevel masks everything.
	HighLevel IRQL = 15
)
