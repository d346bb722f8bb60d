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
	"fmt"
	"io"
	"unsafe"

	"ktrap.dev/ktrap/pkg/cpu"
)

// Frame is the canonical record of interrupted-context state, built on
// the interrupted thread's kernel stack by entry and consumed by exit.
//
// The layout is fixed: slots for every register group exist regardless
// of the save-set policy, so handler field offsets are constant across
// trap types. The machine frame occupies the top of the struct, in the
// order the hardware pushes it (error code lowest, instruction pointer
// highest).
//
// A handler may modify any saved field to alter the resumed context;
// fields of unsaved groups are dead and must not be relied on.
// PreviousMode and PreviousIRQL are written once by entry and read-only
// thereafter.
type Frame struct {
	// Anchor pair, saved unconditionally so the frame can be addressed
	// from a stable base. On exit Rbp is restored unconditionally; Rax
	// is a volatile register and rides the volatile group's restore.
	Rbp uint64
	Rax uint64

	// Volatile (caller-saved) registers.
	Rcx uint64
	Rdx uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64

	// Non-volatile (callee-saved) registers, saved ahead of the prolog
	// boundary so stack unwinders can find them.
	Rbx uint64
	Rdi uint64
	Rsi uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Fill1 keeps the vector save area 16-byte aligned.
	Fill1 uint64

	// Xmm is the volatile half of the vector register file.
	Xmm [6]cpu.XMMRegister

	// Data segment selectors.
	SegDs cpu.Selector
	SegEs cpu.Selector
	SegFs cpu.Selector
	SegGs cpu.Selector

	// MxCsr is the floating-point/SIMD control and status word, saved
	// and restored unconditionally.
	MxCsr uint32

	// PreviousMode is the privilege mode the interrupted code ran at,
	// derived from the saved code segment selector.
	PreviousMode Mode

	// PreviousIRQL is the interrupt priority level at entry, recorded
	// unconditionally; the RestoreIRQL policy bit gates only its
	// restoration.
	PreviousIRQL cpu.IRQL

	Fill0 [2]uint8

	// Debug registers.
	Dr0 uint64
	Dr1 uint64
	Dr2 uint64
	Dr3 uint64
	Dr6 uint64
	Dr7 uint64

	// GsBase is the per-CPU base observed at entry. Diagnostic only,
	// recorded by debug builds.
	GsBase uint64

	// Machine frame. ErrorCode is meaningful only for vectors that
	// define one; the return operation discards it.
	ErrorCode uint64
	SegSs     uint64
	Rsp       uint64
	EFlags    uint64
	SegCs     uint64
	Rip       uint64
}

const (
	// FrameLength is the canonical frame size.
	FrameLength = 344

	// errorCodeOffset is the frame-base-relative offset of the error
	// code slot, the lowest machine frame word.
	errorCodeOffset = 296

	// frameExtension is the fixed software contribution to the frame,
	// below the machine frame.
	frameExtension = FrameLength - 6*8
)

func init() {
	if unsafe.Sizeof(Frame{}) != FrameLength {
		panic("Frame size does not match FrameLength")
	}
	if unsafe.Offsetof(Frame{}.ErrorCode) != errorCodeOffset {
		panic("Frame error code slot does not match errorCodeOffset")
	}
}

// frameAt overlays a Frame on kernel stack memory at base.
func frameAt(c *cpu.CPU, base uint64) *Frame {
	return (*Frame)(c.StackMemory(base, FrameLength))
}

// DumpTo writes a register dump of the frame to w.
func (f *Frame) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "RAX = %016x RBX = %016x\n", f.Rax, f.Rbx)
	fmt.Fprintf(w, "RCX = %016x RDX = %016x\n", f.Rcx, f.Rdx)
	fmt.Fprintf(w, "RSI = %016x RDI = %016x\n", f.Rsi, f.Rdi)
	fmt.Fprintf(w, "RBP = %016x\n", f.Rbp)
	fmt.Fprintf(w, "R8  = %016x R9  = %016x\n", f.R8, f.R9)
	fmt.Fprintf(w, "R10 = %016x R11 = %016x\n", f.R10, f.R11)
	fmt.Fprintf(w, "R12 = %016x R13 = %016x\n", f.R12, f.R13)
	fmt.Fprintf(w, "R14 = %016x R15 = %016x\n", f.R14, f.R15)
	fmt.Fprintf(w, "RIP = %016x CS  = %016x\n", f.Rip, f.SegCs)
	fmt.Fprintf(w, "RSP = %016x SS  = %016x\n", f.Rsp, f.SegSs)
	fmt.Fprintf(w, "RFL = %016x ERR = %016x\n", f.EFlags, f.ErrorCode)
	fmt.Fprintf(w, "mode = %v irql = %d mxcsr = %08x\n", f.PreviousMode, f.PreviousIRQL, f.MxCsr)
}
