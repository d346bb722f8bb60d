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

// Binary ktrap inspects and exercises the trap entry-exit protocol: it
// prints the canonical frame layout, lists the traps a configuration
// registers, and runs single-trap simulations against an emulated CPU.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"ktrap.dev/ktrap/pkg/log"
)

var (
	configPath = flag.String("config", "", "path to a trap table configuration file")
	debug      = flag.Bool("debug", false, "enable debug logging")
	logFormat  = flag.String("log-format", "text", `log format: "text" (default) or "json"`)
)

// newEmitter builds the log emitter for the chosen format.
func newEmitter(format string, w io.Writer) (log.Emitter, error) {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: w}}, nil
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: w}}, nil
	}
	return nil, fmt.Errorf("invalid log format %q, must be 'text' or 'json'", format)
}

// fatalf logs and exits. The log target may be a file; the message is
// duplicated to stderr so it is never lost.
func fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(128)
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(layoutCmd), "")
	subcommands.Register(new(vectorsCmd), "")
	subcommands.Register(new(simulateCmd), "")

	flag.Parse()

	e, err := newEmitter(*logFormat, os.Stderr)
	if err != nil {
		fatalf("%v", err)
	}
	log.SetTarget(e)
	if *debug {
		log.SetLevel(log.Debug)
	}

	var conf *config
	if *configPath != "" {
		var err error
		if conf, err = loadConfig(*configPath); err != nil {
			fatalf("loading %s: %v", *configPath, err)
		}
	}

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}
