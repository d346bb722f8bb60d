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
	"text/tabwriter"

	"github.com/google/subcommands"
)

// vectorsCmd implements subcommands.Command for the "vectors" command.
type vectorsCmd struct{}

// Name implements subcommands.Command.Name.
func (*vectorsCmd) Name() string {
	return "vectors"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*vectorsCmd) Synopsis() string {
	return "list the traps registered by the configuration"
}

// Usage implements subcommands.Command.Usage.
func (*vectorsCmd) Usage() string {
	return `vectors - list every configured vector with its handler, policy and frame size.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*vectorsCmd) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*vectorsCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf, ok := args[0].(*config)
	if !ok || conf == nil {
		fatalf("vectors requires -config")
	}
	tbl, err := conf.buildTable(logHandler)
	if err != nil {
		fatalf("building trap table: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VECTOR\tHANDLER\tPOLICY\tFRAME")
	for _, tr := range tbl.Traps() {
		fmt.Fprintf(w, "%v\t%s\t%v\t%d\n", tr.Vector, tr.Name, tr.Policy, tr.Policy.FrameSize())
	}
	w.Flush()
	return subcommands.ExitSuccess
}
