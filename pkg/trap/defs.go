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

// Package trap implements the trap entry-exit protocol: capturing
// interrupted-context state into a trap frame on vector delivery,
// dispatching to a handler, and restoring exactly the state needed to
// resume the interrupted context.
//
// A registered trap binds a vector to a handler and a save-set policy.
// The policy is fixed at registration and selects which register groups
// entry and exit touch; the frame layout itself never varies. Traps may
// nest: each entry builds an independent frame further down the same
// kernel stack, and each frame is owned exclusively by the trap that
// built it for the duration of one entry-handler-exit sequence.
package trap

import (
	"fmt"
)

// Mode is a processor privilege mode.
type Mode uint8

// Privilege modes, derived from the low bit of a code segment selector.
const (
	// KernelMode is the privileged mode.
	KernelMode Mode = 0

	// UserMode is the unprivileged mode.
	UserMode Mode = 1
)

func (m Mode) String() string {
	switch m {
	case KernelMode:
		return "kernel"
	case UserMode:
		return "user"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Vector is a hardware trap vector.
type Vector uint8

// Architecturally defined vectors.
const (
	DivideByZero               Vector = 0
	Debug                      Vector = 1
	NMI                        Vector = 2
	Breakpoint                 Vector = 3
	Overflow                   Vector = 4
	BoundRangeExceeded         Vector = 5
	InvalidOpcode              Vector = 6
	DeviceNotAvailable         Vector = 7
	DoubleFault                Vector = 8
	CoprocessorSegmentOverrun  Vector = 9
	InvalidTSS                 Vector = 10
	SegmentNotPresent          Vector = 11
	StackSegmentFault          Vector = 12
	GeneralProtectionFault     Vector = 13
	PageFault                  Vector = 14
	X87FloatingPointException  Vector = 16
	AlignmentCheck             Vector = 17
	MachineCheck               Vector = 18
	SIMDFloatingPointException Vector = 19
	VirtualizationException    Vector = 20
	SecurityException          Vector = 30
	SyscallInt80               Vector = 0x80
)

// FirstExternal is the first vector available to external hardware
// interrupt sources.
const FirstExternal Vector = 0x20

func (v Vector) String() string {
	switch v {
	case DivideByZero:
		return "DivideByZero"
	case Debug:
		return "Debug"
	case NMI:
		return "NMI"
	case Breakpoint:
		return "Breakpoint"
	case Overflow:
		return "Overflow"
	case BoundRangeExceeded:
		return "BoundRangeExceeded"
	case InvalidOpcode:
		return "InvalidOpcode"
	case DeviceNotAvailable:
		return "DeviceNotAvailable"
	case DoubleFault:
		return "DoubleFault"
	case CoprocessorSegmentOverrun:
		return "CoprocessorSegmentOverrun"
	case InvalidTSS:
		return "InvalidTSS"
	case SegmentNotPresent:
		return "SegmentNotPresent"
	case StackSegmentFault:
		return "StackSegmentFault"
	case GeneralProtectionFault:
		return "GeneralProtectionFault"
	case PageFault:
		return "PageFault"
	case X87FloatingPointException:
		return "X87FloatingPointException"
	case AlignmentCheck:
		return "AlignmentCheck"
	case MachineCheck:
		return "MachineCheck"
	case SIMDFloatingPointException:
		return "SIMDFloatingPointException"
	case VirtualizationException:
		return "VirtualizationException"
	case SecurityException:
		return "SecurityException"
	case SyscallInt80:
		return "SyscallInt80"
	default:
		return fmt.Sprintf("Vector(%#x)", uint8(v))
	}
}
