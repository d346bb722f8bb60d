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
	"sort"
	"strings"

	"ktrap.dev/ktrap/pkg/cpu"
	"ktrap.dev/ktrap/pkg/log"
)

// HandlerSuffix is the naming convention for handler routines. The
// registration helpers enforce it so a vector's handler can always be
// found by name.
const HandlerSuffix = "Handler"

// Handler services one trap. It runs with the trap frame built and
// interrupts disabled, and may modify any saved frame field.
type Handler func(c *cpu.CPU, f *Frame)

// Trap binds a vector to a handler and the save-set policy its frames
// are built and torn down with.
type Trap struct {
	Vector  Vector
	Name    string
	Policy  Policy
	Handler Handler
}

// Table maps vectors to registered traps. Registration happens during
// startup, before interrupts are enabled; Dispatch never mutates the
// table, so no locking is needed after that point.
type Table struct {
	traps [256]*Trap
}

// NewTable returns an empty trap table.
func NewTable() *Table {
	return &Table{}
}

// Register binds a trap to its vector. The handler name must carry
// HandlerSuffix, and the vector must not already be bound.
func (t *Table) Register(tr Trap) error {
	if tr.Handler == nil {
		return fmt.Errorf("vector %v: nil handler", tr.Vector)
	}
	if !strings.HasSuffix(tr.Name, HandlerSuffix) {
		return fmt.Errorf("vector %v: handler name %q does not end in %q", tr.Vector, tr.Name, HandlerSuffix)
	}
	if prev := t.traps[tr.Vector]; prev != nil {
		return fmt.Errorf("vector %v: already bound to %s", tr.Vector, prev.Name)
	}
	p := new(Trap)
	*p = tr
	t.traps[tr.Vector] = p
	log.Debugf("registered %s on vector %v (policy %v)", tr.Name, tr.Vector, tr.Policy)
	return nil
}

// MustRegister is Register for startup paths where a collision is a
// programming error.
func (t *Table) MustRegister(tr Trap) {
	if err := t.Register(tr); err != nil {
		panic(err)
	}
}

// Lookup returns the trap bound to vector, or nil.
func (t *Table) Lookup(v Vector) *Trap {
	return t.traps[v]
}

// Traps returns all registered traps in vector order.
func (t *Table) Traps() []*Trap {
	var out []*Trap
	for _, tr := range t.traps {
		if tr != nil {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Vector < out[j].Vector })
	return out
}

// Dispatch delivers vector v to c as the hardware would: it disables
// interrupts, switches to the kernel stack if the interrupted code ran
// in user mode, pushes the machine frame, then runs the registered
// trap's entry-handler-exit sequence.
//
// errorCode is pushed only when the trap's policy defines one.
func (t *Table) Dispatch(c *cpu.CPU, v Vector, errorCode uint64) error {
	tr := t.traps[v]
	if tr == nil {
		return fmt.Errorf("vector %v: no trap registered", v)
	}

	rip := c.Regs.Rip
	cs := c.Regs.Cs
	eflags := c.Regs.Eflags
	rsp := c.Regs.Rsp
	ss := c.Regs.Ss

	c.Cli()
	if cs&1 != 0 {
		// Privilege transition: the gate loads the kernel stack.
		c.Regs.Rsp = c.StackTop()
		c.Regs.Ss = uint64(cpu.Kdata)
	}
	c.Regs.Cs = uint64(cpu.Kcode)

	c.Push64(rip)
	c.Push64(cs)
	c.Push64(eflags)
	c.Push64(rsp)
	c.Push64(ss)
	if tr.Policy&HasErrorCode != 0 {
		c.Push64(errorCode)
	}

	f := enter(c, tr.Policy)
	tr.Handler(c, f)
	exit(c, f, tr.Policy)
	return nil
}
