// Copyright The OpenMonitor Authors
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

package weave // import "github.com/openmonitor/agent-go/weave"

import "context"

// runAdvice is the guard around every spliced invocation. A fault raised
// by advice is recovered here, at the innermost boundary, and forwarded to
// the weaver's error handler; it never alters the host method's return
// value or error and never raises toward the host's caller.
func (w *Weaver) runAdvice(d *Descriptor, ctx context.Context, inv Invocation) {
	defer func() {
		if r := recover(); r != nil {
			w.handler(&AdviceError{
				Module:   d.Name,
				TypeName: inv.TypeName,
				Method:   inv.Method,
				Cause:    r,
			})
		}
	}()
	d.Advice.Observe(ctx, inv)
}
