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

// Package apic models the register window of a local interrupt controller.
//
// The trap layer uses exactly one register: end-of-interrupt. The rest of
// the window exists so that register offsets keep their architectural
// values.
package apic

import (
	"sync/atomic"
)

// Register offsets within the controller's 4KiB window.
const (
	// RegID is the local APIC ID register.
	RegID = 0x020

	// RegVersion is the version register.
	RegVersion = 0x030

	// RegEOI is the end-of-interrupt register. Interrupt handlers write 0
	// to it to signal end of interrupt handling.
	RegEOI = 0x0b0

	// RegSpurious is the spurious interrupt vector register.
	RegSpurious = 0x0f0
)

// windowSize is the size of the memory-mapped register window.
const windowSize = 0x1000

// LAPIC is a local interrupt controller.
//
// Registers are backed by a fixed array standing in for the memory-mapped
// window; all accesses are 32-bit, matching the hardware access width.
type LAPIC struct {
	regs [windowSize / 4]uint32

	// eoiCount counts end-of-interrupt writes. Diagnostic only.
	eoiCount atomic.Uint64
}

// New returns an initialized local interrupt controller.
func New(id uint32) *LAPIC {
	l := &LAPIC{}
	l.write(RegID, id<<24)
	l.write(RegVersion, 0x14) // Integrated APIC.
	return l
}

func (l *LAPIC) write(reg int, val uint32) {
	atomic.StoreUint32(&l.regs[reg/4], val)
}

func (l *LAPIC) read(reg int) uint32 {
	return atomic.LoadUint32(&l.regs[reg/4])
}

// ID returns the controller's ID.
func (l *LAPIC) ID() uint32 {
	return l.read(RegID) >> 24
}

// EOI signals end of interrupt handling with a single zero-value write to
// the end-of-interrupt register.
func (l *LAPIC) EOI() {
	l.write(RegEOI, 0)
	l.eoiCount.Add(1)
}

// EOICount returns the number of end-of-interrupt writes performed.
func (l *LAPIC) EOICount() uint64 {
	return l.eoiCount.Load()
}
