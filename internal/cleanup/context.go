/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package cleanup provides utilities to help cleanup.
package cleanup

import (
	"context"
	"time"
)

// cleanupTimeout bounds a cleanup step. Draining a send-stream pipe and
// closing its descriptors is normally instant; the timeout only guards
// against a stream consumer that never finishes holding the diff forever.
const cleanupTimeout = 10 * time.Second

// Do runs do with a context that survives cancellation of ctx but expires
// after cleanupTimeout. Values of ctx are preserved.
//
// Use it for teardown that must finish even when the surrounding operation
// was cancelled, such as joining the stream consumer after a failed send.
func Do(ctx context.Context, do func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	do(ctx)
	cancel()
}
