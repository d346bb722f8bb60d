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
	"reflect"
	"text/tabwriter"

	"github.com/google/subcommands"

	"ktrap.dev/ktrap/pkg/trap"
)

// layoutCmd implements subcommands.Command for the "layout" command.
type layoutCmd struct{}

// Name implements subcommands.Command.Name.
func (*layoutCmd) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*layoutCmd) Synopsis() string {
	return "print the canonical trap frame layout"
}

// Usage implements subcommands.Command.Usage.
func (*layoutCmd) Usage() string {
	return `layout - print every trap frame field with its offset and size.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*layoutCmd) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*layoutCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tOFFSET\tSIZE")
	ft := reflect.TypeOf(trap.Frame{})
	for i := 0; i < ft.NumField(); i++ {
		f := ft.Field(i)
		fmt.Fprintf(w, "%s\t%d\t%d\n", f.Name, f.Offset, f.Type.Size())
	}
	w.Flush()

	fmt.Printf("\ntotal frame size: %d\n", trap.FrameLength)
	fmt.Printf("allocation without error code: %d\n", trap.Policy(0).FrameSize())
	fmt.Printf("allocation with error code: %d\n", trap.HasErrorCode.FrameSize())
	return subcommands.ExitSuccess
}
