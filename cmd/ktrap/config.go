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
	"fmt"

	"github.com/BurntSushi/toml"

	"ktrap.dev/ktrap/pkg/cpu"
	"ktrap.dev/ktrap/pkg/log"
	"ktrap.dev/ktrap/pkg/trap"
)

// config is the on-disk trap table description:
//
//	[[vector]]
//	vector = 14
//	name = "PageFault"
//	policy = ["all", "error-code"]
type config struct {
	Vector []vectorConfig `toml:"vector"`
}

type vectorConfig struct {
	Vector uint8    `toml:"vector"`
	Name   string   `toml:"name"`
	Policy []string `toml:"policy"`
}

func loadConfig(path string) (*config, error) {
	var conf config
	meta, err := toml.DecodeFile(path, &conf)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown configuration keys: %v", undecoded)
	}
	for _, v := range conf.Vector {
		if v.Name == "" {
			return nil, fmt.Errorf("vector %d: missing name", v.Vector)
		}
	}
	return &conf, nil
}

// buildTable registers every configured vector, binding each to handler
// with its parsed policy. Handler names follow the trap name by
// convention.
func (c *config) buildTable(handler trap.Handler) (*trap.Table, error) {
	tbl := trap.NewTable()
	for _, v := range c.Vector {
		p, err := trap.ParsePolicy(v.Policy)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %v", v.Vector, err)
		}
		if err := tbl.Register(trap.Trap{
			Vector:  trap.Vector(v.Vector),
			Name:    v.Name + trap.HandlerSuffix,
			Policy:  p,
			Handler: handler,
		}); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

// logHandler is the default simulation handler: it logs the trap and
// leaves the frame untouched.
func logHandler(c *cpu.CPU, f *trap.Frame) {
	log.Infof("cpu %d: trap from %v mode at rip %#x (irql %d)", c.ID(), f.PreviousMode, f.Rip, f.PreviousIRQL)
}
