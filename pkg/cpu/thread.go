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

package cpu

import (
	"sync/atomic"
)

// Thread is the slice of a thread control block the trap layer can see:
// the pending-user-work flag. The scheduler owns everything else.
type Thread struct {
	pendingUserWork atomic.Bool
}

// PendingUserWork returns whether asynchronous work is queued for
// delivery on the next return to user code.
func (t *Thread) PendingUserWork() bool {
	return t.pendingUserWork.Load()
}

// SetPendingUserWork flags asynchronous work for delivery.
func (t *Thread) SetPendingUserWork() {
	t.pendingUserWork.Store(true)
}

// ClearPendingUserWork clears the flag.
func (t *Thread) ClearPendingUserWork() {
	t.pendingUserWork.Store(false)
}
