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

// Package weave selects target methods by structural matching and splices
// diagnostic advice into them at load time.
//
// The host constructs a Target for each unit it loads and hands it to
// Weaver.Load before the unit becomes reachable. Every registered Descriptor
// whose matchers accept the target has its advice woven into the matching
// methods at the descriptor's phase. Weaving is permanent for the lifetime
// of the loaded target and idempotent per (target, descriptor) pair.
//
// Advice is strictly observational. It receives read-only access to the
// method's arguments and, at exit, to the pending result or error, and it
// can never alter the outcome the caller sees: any panic raised by advice
// is recovered at the advice boundary and reported to the weaver's error
// handler only.
package weave // import "github.com/openmonitor/agent-go/weave"
