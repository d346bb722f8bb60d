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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"ktrap.dev/ktrap/pkg/cpu"
	"ktrap.dev/ktrap/pkg/log"
	"ktrap.dev/ktrap/pkg/trap"
)

// simulateCmd implements subcommands.Command for the "simulate" command.
type simulateCmd struct {
	vector    uint
	user      bool
	pending   bool
	errorCode uint64
	dump      bool
}

// Name implements subcommands.Command.Name.
func (*simulateCmd) Name() string {
	return "simulate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*simulateCmd) Synopsis() string {
	return "deliver one trap to an emulated CPU and report the outcome"
}

// Usage implements subcommands.Command.Usage.
func (*simulateCmd) Usage() string {
	return `simulate [flags]

Delivers the chosen vector to a freshly initialized CPU, optionally from
user context with asynchronous work pending, and reports the trap frame
and resume state.

OPTIONS:
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *simulateCmd) SetFlags(f *flag.FlagSet) {
	f.UintVar(&s.vector, "vector", uint(trap.FirstExternal), "vector to deliver")
	f.BoolVar(&s.user, "user", false, "deliver the trap to user-mode context")
	f.BoolVar(&s.pending, "pending", false, "flag asynchronous work on the current thread")
	f.Uint64Var(&s.errorCode, "error-code", 0, "error code to push, for vectors that define one")
	f.BoolVar(&s.dump, "dump", true, "dump the trap frame seen by the handler")
}

// Execute implements subcommands.Command.Execute.
func (s *simulateCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf, ok := args[0].(*config)
	if !ok || conf == nil {
		fatalf("simulate requires -config")
	}
	if s.vector > 255 {
		fatalf("vector %d out of range", s.vector)
	}

	tbl, err := conf.buildTable(func(c *cpu.CPU, fr *trap.Frame) {
		logHandler(c, fr)
		if s.dump {
			fr.DumpTo(os.Stdout)
		}
	})
	if err != nil {
		fatalf("building trap table: %v", err)
	}

	c := cpu.New(0)
	thread := &cpu.Thread{}
	c.PCR().CurrentThread = thread
	if s.pending {
		thread.SetPendingUserWork()
	}
	if s.user {
		c.SwitchToUser(0x401000, 0x7fff_0000)
	}

	delivered := 0
	prev := trap.DeliverUserWork
	trap.DeliverUserWork = func(t *cpu.Thread, fr *trap.Frame) {
		delivered++
		log.Infof("delivering pending user work (round %d)", delivered)
	}
	defer func() { trap.DeliverUserWork = prev }()

	if err := tbl.Dispatch(c, trap.Vector(s.vector), s.errorCode); err != nil {
		fatalf("dispatch: %v", err)
	}

	fmt.Printf("vector %v handled; resumed at rip %#x rsp %#x (cs %#x)\n",
		trap.Vector(s.vector), c.Regs.Rip, c.Regs.Rsp, c.Regs.Cs)
	if delivered > 0 {
		fmt.Printf("asynchronous work delivered %d time(s)\n", delivered)
	}
	return subcommands.ExitSuccess
}
