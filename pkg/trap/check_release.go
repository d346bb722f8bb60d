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

//go:build !checkinvariants

package trap

import (
	"ktrap.dev/ktrap/pkg/cpu"
)

// Release builds compile the invariant checks away.

func assertPassive(c *cpu.CPU) {}

func assertIRQLValid(c *cpu.CPU, f *Frame) {}

func assertInterruptsEnabled(c *cpu.CPU, f *Frame) {}

func recordGSBase(c *cpu.CPU, f *Frame) {}
