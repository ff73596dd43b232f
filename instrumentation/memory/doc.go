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

// Package memory registers observable instruments over the memory pools
// of a monitored process.
//
// Example metrics being exported:
//
//	process.runtime.memory.pool.usage{type="heap",pool="go.heap"} 2500000
//	process.runtime.memory.pool.committed{type="heap",pool="go.heap"} 3000000
//	process.runtime.memory.pool.usage{type="non_heap",pool="go.stack"} 400
//	process.runtime.memory.usage{type="heap"} 2500000
//	process.runtime.memory.usage{type="non_heap"} 400
//
// Attribute sets are built once, at registration time, from the pool list
// captured by Start; collection cycles reuse them by reference. A source
// reports -1 for a reading it cannot provide, and such readings are
// skipped for that cycle only.
package memory // import "github.com/openmonitor/agent-go/instrumentation/memory"
