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
	"strings"
)

// Policy is the register save-set of one trap type: a bitmask of
// independent toggles deciding which register groups entry and exit
// touch and which side effects exit performs. It is fixed at
// registration time and immutable thereafter.
//
// Toggles gate whether entry and exit touch a register group, never
// whether space for it exists; the frame layout is constant.
type Policy uint16

// Policy bits.
const (
	// SaveVolatile saves and restores the caller-saved general
	// registers.
	SaveVolatile Policy = 1 << iota

	// SaveNonVolatile saves and restores the callee-saved general
	// registers.
	SaveNonVolatile

	// SaveVector saves and restores the volatile vector registers.
	SaveVector

	// SaveSegments saves and restores the data segment selectors.
	SaveSegments

	// SaveDebugRegisters saves and restores the debug registers.
	SaveDebugRegisters

	// RestoreIRQL makes exit write the frame's previous priority level
	// back to the priority-control register. Entry records the level
	// regardless of this bit.
	RestoreIRQL

	// HasErrorCode marks vectors for which the hardware pushes an
	// architectural error code.
	HasErrorCode

	// SendEOI makes exit signal end-of-interrupt to the interrupt
	// controller.
	SendEOI

	// CheckPendingWork makes exit check for pending asynchronous work
	// when returning to user mode.
	CheckPendingWork
)

// SaveAll enables every register group except the debug registers.
const SaveAll = SaveVolatile | SaveNonVolatile | SaveVector | SaveSegments

var policyNames = []struct {
	bit  Policy
	name string
}{
	{SaveVolatile, "volatile"},
	{SaveNonVolatile, "non-volatile"},
	{SaveVector, "vector"},
	{SaveSegments, "segments"},
	{SaveDebugRegisters, "debug-registers"},
	{RestoreIRQL, "restore-irql"},
	{HasErrorCode, "error-code"},
	{SendEOI, "eoi"},
	{CheckPendingWork, "check-pending-work"},
}

func (p Policy) String() string {
	if p == 0 {
		return "none"
	}
	var names []string
	for _, pn := range policyNames {
		if p&pn.bit != 0 {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, "|")
}

// ParsePolicy builds a Policy from toggle names as printed by String.
// The name "all" selects every register group except debug registers.
func ParsePolicy(names []string) (Policy, error) {
	var p Policy
	for _, name := range names {
		if name == "all" {
			p |= SaveAll
			continue
		}
		found := false
		for _, pn := range policyNames {
			if pn.name == name {
				p |= pn.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown policy toggle %q", name)
		}
	}
	return p, nil
}

// InitialFrameSize is the size of the machine frame the hardware pushes
// before any software runs: five machine words, or six when the vector
// defines an error code.
func (p Policy) InitialFrameSize() uint64 {
	if p&HasErrorCode != 0 {
		return 6 * 8
	}
	return 5 * 8
}

// FrameSize is the total trap frame size: the fixed software extension
// plus the machine frame. It takes exactly two values, keyed solely on
// the error-code bit.
func (p Policy) FrameSize() uint64 {
	return frameExtension + p.InitialFrameSize()
}

// machineFrameOffset is the frame-base-relative offset of the lowest
// hardware-pushed word.
func (p Policy) machineFrameOffset() uint64 {
	if p&HasErrorCode != 0 {
		return errorCodeOffset
	}
	return errorCodeOffset + 8
}
