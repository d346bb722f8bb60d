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
	"ktrap.dev/ktrap/pkg/cpu"
)

// DeliverUserWork runs asynchronous work queued against a thread, on the
// verge of that thread's return to user mode. The frame is the trap
// frame being returned through; the delivery routine may modify it to
// redirect the resumed context.
//
// The default delivers nothing. The scheduler layer installs its own
// routine at startup, before any trap can fire.
var DeliverUserWork = func(t *cpu.Thread, f *Frame) {}

// deliverPendingWork drains queued user work, rechecking after each
// delivery round since running work may queue more.
func deliverPendingWork(t *cpu.Thread, f *Frame) {
	if t == nil {
		return
	}
	for t.PendingUserWork() {
		t.ClearPendingUserWork()
		DeliverUserWork(t, f)
	}
}
