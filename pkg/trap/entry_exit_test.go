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
	"testing"

	"github.com/google/go-cmp/cmp"

	"ktrap.dev/ktrap/pkg/cpu"
)

const testVector = FirstExternal

// newTestTable returns a table with a single trap on testVector.
func newTestTable(t *testing.T, p Policy, h Handler) *Table {
	t.Helper()
	tbl := NewTable()
	tbl.MustRegister(Trap{
		Vector:  testVector,
		Name:    "TestHandler",
		Policy:  p,
		Handler: h,
	})
	return tbl
}

// seedRegisters gives every register a distinct recognizable value.
func seedRegisters(c *cpu.CPU) {
	c.Regs.Rax = 0xa0
	c.Regs.Rbx = 0xb0
	c.Regs.Rcx = 0xc0
	c.Regs.Rdx = 0xd0
	c.Regs.Rsi = 0x51
	c.Regs.Rdi = 0xd1
	c.Regs.R8 = 0x80
	c.Regs.R9 = 0x90
	c.Regs.R10 = 0x10
	c.Regs.R11 = 0x11
	c.Regs.R12 = 0x12
	c.Regs.R13 = 0x13
	c.Regs.R14 = 0x14
	c.Regs.R15 = 0x15
	c.Regs.Rbp = c.StackTop()
	c.Regs.Rip = 0x401000
	for i := range c.Xmm {
		c.Xmm[i] = cpu.XMMRegister{uint64(i) + 1, uint64(i) + 100}
	}
}

// clobber overwrites every register the handler is allowed to destroy.
// The stack and frame-base registers stay put; exit depends on them.
func clobber(c *cpu.CPU) {
	c.Regs.Rax = ^uint64(0)
	c.Regs.Rbx = ^uint64(0)
	c.Regs.Rcx = ^uint64(0)
	c.Regs.Rdx = ^uint64(0)
	c.Regs.Rsi = ^uint64(0)
	c.Regs.Rdi = ^uint64(0)
	c.Regs.R8 = ^uint64(0)
	c.Regs.R9 = ^uint64(0)
	c.Regs.R10 = ^uint64(0)
	c.Regs.R11 = ^uint64(0)
	c.Regs.R12 = ^uint64(0)
	c.Regs.R13 = ^uint64(0)
	c.Regs.R14 = ^uint64(0)
	c.Regs.R15 = ^uint64(0)
	for i := range c.Xmm {
		c.Xmm[i] = cpu.XMMRegister{^uint64(0), ^uint64(0)}
	}
	c.Ldmxcsr(0xffff)
}

func TestRoundTripAllPolicies(t *testing.T) {
	// A no-op trap must hand back every register group its policy
	// saves, bit-identical, no matter what the handler destroyed.
	for p := Policy(0); p < 1<<9; p++ {
		c := cpu.New(0)
		seedRegisters(c)
		before := c.Regs
		beforeXmm := c.Xmm
		beforeMXCSR := c.Stmxcsr()

		tbl := newTestTable(t, p, func(c *cpu.CPU, f *Frame) {
			clobber(c)
		})
		if err := tbl.Dispatch(c, testVector, 0x11); err != nil {
			t.Fatalf("policy %v: Dispatch: %v", p, err)
		}

		// Restored unconditionally.
		if c.Regs.Rbp != before.Rbp {
			t.Errorf("policy %v: Rbp = %#x, want %#x", p, c.Regs.Rbp, before.Rbp)
		}
		if c.Regs.Rsp != before.Rsp {
			t.Errorf("policy %v: Rsp = %#x, want %#x", p, c.Regs.Rsp, before.Rsp)
		}
		if c.Regs.Rip != before.Rip {
			t.Errorf("policy %v: Rip = %#x, want %#x", p, c.Regs.Rip, before.Rip)
		}
		if c.Regs.Eflags != before.Eflags {
			t.Errorf("policy %v: Eflags = %#x, want %#x", p, c.Regs.Eflags, before.Eflags)
		}
		if got := c.Stmxcsr(); got != beforeMXCSR {
			t.Errorf("policy %v: MXCSR = %#x, want %#x", p, got, beforeMXCSR)
		}

		if p&SaveVolatile != 0 {
			got := [7]uint64{c.Regs.Rax, c.Regs.Rcx, c.Regs.Rdx, c.Regs.R8, c.Regs.R9, c.Regs.R10, c.Regs.R11}
			want := [7]uint64{before.Rax, before.Rcx, before.Rdx, before.R8, before.R9, before.R10, before.R11}
			if got != want {
				t.Errorf("policy %v: volatile registers %v, want %v", p, got, want)
			}
		}
		if p&SaveNonVolatile != 0 {
			got := [7]uint64{c.Regs.Rbx, c.Regs.Rdi, c.Regs.Rsi, c.Regs.R12, c.Regs.R13, c.Regs.R14, c.Regs.R15}
			want := [7]uint64{before.Rbx, before.Rdi, before.Rsi, before.R12, before.R13, before.R14, before.R15}
			if got != want {
				t.Errorf("policy %v: non-volatile registers %v, want %v", p, got, want)
			}
		}
		if p&SaveVector != 0 && c.Xmm != beforeXmm {
			t.Errorf("policy %v: vector registers %v, want %v", p, c.Xmm, beforeXmm)
		}
	}
}

func TestFullKernelRoundTrip(t *testing.T) {
	c := cpu.New(0)
	seedRegisters(c)
	before := c.Regs

	tbl := newTestTable(t, SaveAll, func(c *cpu.CPU, f *Frame) {
		clobber(c)
	})
	if err := tbl.Dispatch(c, testVector, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if diff := cmp.Diff(before, c.Regs); diff != "" {
		t.Errorf("register file mismatch after round trip (-want +got):\n%s", diff)
	}
}

func TestPreviousModeDerivation(t *testing.T) {
	var mode Mode
	capture := func(c *cpu.CPU, f *Frame) { mode = f.PreviousMode }

	c := cpu.New(0)
	tbl := newTestTable(t, SaveAll, capture)
	if err := tbl.Dispatch(c, testVector, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if mode != KernelMode {
		t.Errorf("got previous mode %v from kernel context, want kernel", mode)
	}

	c = cpu.New(0)
	c.PCR().CurrentThread = &cpu.Thread{}
	c.SwitchToUser(0x401000, 0x7fff_0000)
	if err := tbl.Dispatch(c, testVector, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if mode != UserMode {
		t.Errorf("got previous mode %v from user context, want user", mode)
	}
}

func TestIRQLRecordedUnconditionally(t *testing.T) {
	var recorded cpu.IRQL
	capture := func(c *cpu.CPU, f *Frame) { recorded = f.PreviousIRQL }

	c := cpu.New(0)
	c.WriteCR8(cpu.DispatchLevel)
	tbl := newTestTable(t, SaveAll, capture)
	if err := tbl.Dispatch(c, testVector, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if recorded != cpu.DispatchLevel {
		t.Errorf("got recorded IRQL %d without restore toggle, want %d", recorded, cpu.DispatchLevel)
	}
}

func TestIRQLRestoreToggle(t *testing.T) {
	raise := func(c *cpu.CPU, f *Frame) { c.WriteCR8(cpu.HighLevel) }

	// Without the toggle the handler's level sticks.
	c := cpu.New(0)
	c.WriteCR8(cpu.DispatchLevel)
	tbl := newTestTable(t, SaveAll, raise)
	if err := tbl.Dispatch(c, testVector, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := c.ReadCR8(); got != cpu.HighLevel {
		t.Errorf("got IRQL %d without restore toggle, want %d", got, cpu.HighLevel)
	}

	// With the toggle exit rewrites the entry level.
	c = cpu.New(0)
	c.WriteCR8(cpu.DispatchLevel)
	tbl = newTestTable(t, SaveAll|RestoreIRQL, raise)
	if err := tbl.Dispatch(c, testVector, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := c.ReadCR8(); got != cpu.DispatchLevel {
		t.Errorf("got IRQL %d with restore toggle, want %d", got, cpu.DispatchLevel)
	}
}

func TestKernelTrapLeavesUserStateAlone(t *testing.T) {
	// Kernel-to-kernel traps must not disturb segment selectors or the
	// per-CPU base, toggles notwithstanding.
	c := cpu.New(0)
	c.PCR().CurrentThread = &cpu.Thread{}
	c.PCR().CurrentThread.SetPendingUserWork()
	gsBefore := c.GSBase()

	delivered := false
	prev := DeliverUserWork
	DeliverUserWork = func(t *cpu.Thread, f *Frame) { delivered = true }
	defer func() { DeliverUserWork = prev }()

	tbl := newTestTable(t, SaveAll|CheckPendingWork, func(c *cpu.CPU, f *Frame) {})
	if err := tbl.Dispatch(c, testVector, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if delivered {
		t.Error("pending work delivered on a kernel-to-kernel trap")
	}
	if got := c.GSBase(); got != gsBefore {
		t.Errorf("GS base %#x changed across kernel trap, want %#x", got, gsBefore)
	}
	if c.SegDs != cpu.Kdata || c.SegEs != cpu.Kdata {
		t.Errorf("segment selectors ds=%#x es=%#x changed across kernel trap", c.SegDs, c.SegEs)
	}
}

func TestPendingWorkTruthTable(t *testing.T) {
	for _, tc := range []struct {
		name    string
		policy  Policy
		user    bool
		pending bool
		want    bool
	}{
		{"all conditions", SaveAll | CheckPendingWork, true, true, true},
		{"toggle clear", SaveAll, true, true, false},
		{"kernel mode", SaveAll | CheckPendingWork, false, true, false},
		{"no pending", SaveAll | CheckPendingWork, true, false, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := cpu.New(0)
			thread := &cpu.Thread{}
			c.PCR().CurrentThread = thread
			if tc.pending {
				thread.SetPendingUserWork()
			}
			if tc.user {
				c.SwitchToUser(0x401000, 0x7fff_0000)
			}

			delivered := 0
			prev := DeliverUserWork
			DeliverUserWork = func(t *cpu.Thread, f *Frame) { delivered++ }
			defer func() { DeliverUserWork = prev }()

			tbl := newTestTable(t, tc.policy, func(c *cpu.CPU, f *Frame) {})
			if err := tbl.Dispatch(c, testVector, 0); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if got := delivered > 0; got != tc.want {
				t.Errorf("delivered %d times, want delivery %v", delivered, tc.want)
			}
			if tc.want && delivered != 1 {
				t.Errorf("delivered %d times, want exactly 1", delivered)
			}
		})
	}
}

func TestEOIToggle(t *testing.T) {
	c := cpu.New(0)
	tbl := newTestTable(t, SaveAll|SendEOI, func(c *cpu.CPU, f *Frame) {})
	if err := tbl.Dispatch(c, testVector, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := c.LAPIC().EOICount(); got != 1 {
		t.Errorf("got %d end-of-interrupt writes with toggle, want 1", got)
	}

	c = cpu.New(0)
	tbl = newTestTable(t, SaveAll, func(c *cpu.CPU, f *Frame) {})
	if err := tbl.Dispatch(c, testVector, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := c.LAPIC().EOICount(); got != 0 {
		t.Errorf("got %d end-of-interrupt writes without toggle, want 0", got)
	}
}

func TestHandlerRedirectsResume(t *testing.T) {
	c := cpu.New(0)
	c.Regs.Rip = 0x401000
	tbl := newTestTable(t, SaveAll, func(c *cpu.CPU, f *Frame) {
		f.Rip = 0x500000
	})
	if err := tbl.Dispatch(c, testVector, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if c.Regs.Rip != 0x500000 {
		t.Errorf("resumed at %#x, want handler-set %#x", c.Regs.Rip, 0x500000)
	}
}

func TestErrorCodeCapture(t *testing.T) {
	var got uint64
	c := cpu.New(0)
	tbl := newTestTable(t, SaveAll|HasErrorCode, func(c *cpu.CPU, f *Frame) {
		got = f.ErrorCode
	})
	if err := tbl.Dispatch(c, testVector, 0xdead); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got != 0xdead {
		t.Errorf("handler saw error code %#x, want 0xdead", got)
	}
}

func TestNestedTraps(t *testing.T) {
	const inner = testVector + 1

	c := cpu.New(0)
	seedRegisters(c)
	before := c.Regs

	var outerFrame, innerFrame *Frame
	var outerSaved Frame

	tbl := NewTable()
	tbl.MustRegister(Trap{
		Vector: inner,
		Name:   "InnerHandler",
		Policy: SaveAll,
		Handler: func(c *cpu.CPU, f *Frame) {
			innerFrame = f
			clobber(c)
		},
	})
	tbl.MustRegister(Trap{
		Vector: testVector,
		Name:   "OuterHandler",
		Policy: SaveAll,
		Handler: func(c *cpu.CPU, f *Frame) {
			outerFrame = f
			outerSaved = *f
			if err := tbl.Dispatch(c, inner, 0); err != nil {
				t.Errorf("nested Dispatch: %v", err)
			}
			if *f != outerSaved {
				t.Error("outer frame disturbed by nested trap")
			}
		},
	})

	if err := tbl.Dispatch(c, testVector, 0); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outerFrame == nil || innerFrame == nil {
		t.Fatal("handler did not run")
	}
	if outerFrame == innerFrame {
		t.Error("nested trap reused the outer frame")
	}
	if diff := cmp.Diff(before, c.Regs); diff != "" {
		t.Errorf("register file mismatch after nested round trip (-want +got):\n%s", diff)
	}
}

func TestUserTrapWithPendingWork(t *testing.T) {
	// Entry from user privilege installs kernel segments and the kernel
	// per-CPU base; exit delivers pending work once, then reinstalls the
	// user state.
	const userGS = 0x7ffe_0000_0000

	c := cpu.New(0)
	thread := &cpu.Thread{}
	c.PCR().CurrentThread = thread
	thread.SetPendingUserWork()
	c.SetUserGSBase(userGS)
	c.Regs.Rcx = 0xc0
	c.Regs.R12 = 0x12
	c.SwitchToUser(0x401000, 0x7fff_0000)

	delivered := 0
	prev := DeliverUserWork
	DeliverUserWork = func(_ *cpu.Thread, _ *Frame) {
		delivered++
		// Delivery precedes register restoration: the values the
		// handler destroyed must still be live here.
		if c.Regs.Rcx != ^uint64(0) || c.Regs.R12 != ^uint64(0) {
			t.Errorf("delivery ran with registers already restored: rcx=%#x r12=%#x", c.Regs.Rcx, c.Regs.R12)
		}
	}
	defer func() { DeliverUserWork = prev }()

	var sawDs cpu.Selector
	var sawGSBase uint64
	tbl := newTestTable(t, SaveAll|HasErrorCode|CheckPendingWork, func(c *cpu.CPU, f *Frame) {
		sawDs = c.SegDs
		sawGSBase = c.GSBase()
		clobber(c)
	})
	if err := tbl.Dispatch(c, testVector, 0x2); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if c.Regs.Rcx != 0xc0 || c.Regs.R12 != 0x12 {
		t.Errorf("registers not restored after delivery: rcx=%#x r12=%#x", c.Regs.Rcx, c.Regs.R12)
	}

	if sawDs != cpu.Kdata {
		t.Errorf("handler ran with ds=%#x, want kernel data selector %#x", sawDs, cpu.Kdata)
	}
	if sawGSBase != c.KernelGSBase() {
		t.Errorf("handler ran with GS base %#x, want kernel base %#x", sawGSBase, c.KernelGSBase())
	}
	if delivered != 1 {
		t.Errorf("pending work delivered %d times, want 1", delivered)
	}
	if thread.PendingUserWork() {
		t.Error("pending flag still set after delivery")
	}
	if c.SegDs != cpu.Udata {
		t.Errorf("resumed with ds=%#x, want user data selector %#x", c.SegDs, cpu.Udata)
	}
	if got := c.GSBase(); got != userGS {
		t.Errorf("resumed with GS base %#x, want user base %#x", got, userGS)
	}
	if c.Regs.Rip != 0x401000 || c.Regs.Rsp != 0x7fff_0000 {
		t.Errorf("resumed at rip=%#x rsp=%#x, want rip=0x401000 rsp=0x7fff0000", c.Regs.Rip, c.Regs.Rsp)
	}
	if !c.InterruptsEnabled() {
		t.Error("resumed user context with interrupts disabled")
	}
}

func TestRegisterRejectsBadNames(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Register(Trap{
		Vector:  testVector,
		Name:    "TestRoutine",
		Policy:  SaveAll,
		Handler: func(c *cpu.CPU, f *Frame) {},
	}); err == nil {
		t.Error("registered a handler without the conventional suffix")
	}
	if err := tbl.Register(Trap{Vector: testVector, Name: "TestHandler"}); err == nil {
		t.Error("registered a nil handler")
	}
}

func TestRegisterRejectsCollision(t *testing.T) {
	tbl := newTestTable(t, SaveAll, func(c *cpu.CPU, f *Frame) {})
	if err := tbl.Register(Trap{
		Vector:  testVector,
		Name:    "OtherHandler",
		Policy:  SaveAll,
		Handler: func(c *cpu.CPU, f *Frame) {},
	}); err == nil {
		t.Error("registered two traps on one vector")
	}
}

func TestDispatchUnregistered(t *testing.T) {
	c := cpu.New(0)
	if err := NewTable().Dispatch(c, testVector, 0); err == nil {
		t.Error("dispatched an unregistered vector")
	}
}

func TestTrapsOrdered(t *testing.T) {
	tbl := NewTable()
	for _, v := range []Vector{PageFault, DivideByZero, testVector} {
		tbl.MustRegister(Trap{
			Vector:  v,
			Name:    "OrderHandler",
			Policy:  SaveAll,
			Handler: func(c *cpu.CPU, f *Frame) {},
		})
	}
	traps := tbl.Traps()
	if len(traps) != 3 {
		t.Fatalf("got %d traps, want 3", len(traps))
	}
	for i := 1; i < len(traps); i++ {
		if traps[i-1].Vector >= traps[i].Vector {
			t.Errorf("traps out of vector order: %v before %v", traps[i-1].Vector, traps[i].Vector)
		}
	}
}
