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

package memory // import "github.com/openmonitor/agent-go/instrumentation/memory"

import (
	"math"
	"runtime/metrics"

	"github.com/shirou/gopsutil/v3/mem"
)

// unavailableUsage is returned by sources that could not be read at all.
var unavailableUsage = Usage{
	Used:      Unavailable,
	Init:      Unavailable,
	Committed: Unavailable,
	Limit:     Unavailable,
}

type pool struct {
	name string
	kind Kind
	read func() Usage
}

func (p *pool) Name() string { return p.name }
func (p *pool) Kind() Kind   { return p.kind }
func (p *pool) Usage() Usage { return p.read() }

// NewPool adapts a read function into a Pool.
func NewPool(name string, kind Kind, read func() Usage) Pool {
	return &pool{name: name, kind: kind, read: read}
}

// Names from the runtime/metrics catalog, stable since Go 1.21.
const (
	heapObjects   = "/memory/classes/heap/objects:bytes"
	heapUnused    = "/memory/classes/heap/unused:bytes"
	heapFree      = "/memory/classes/heap/free:bytes"
	heapStacks    = "/memory/classes/heap/stacks:bytes"
	metadataMSpan = "/memory/classes/metadata/mspan/inuse:bytes"
	metadataMCach = "/memory/classes/metadata/mcache/inuse:bytes"
	metadataOther = "/memory/classes/metadata/other:bytes"
	gcLimit       = "/gc/gomemlimit:bytes"
)

// readRuntime reads the named runtime/metrics samples. The runtime mutates
// these values without coordination; a read is a point-in-time sample, not
// a coherent snapshot.
func readRuntime(names ...string) []int64 {
	samples := make([]metrics.Sample, len(names))
	for i, n := range names {
		samples[i].Name = n
	}
	metrics.Read(samples)
	out := make([]int64, len(samples))
	for i, s := range samples {
		if s.Value.Kind() != metrics.KindUint64 {
			out[i] = Unavailable
			continue
		}
		out[i] = int64(s.Value.Uint64())
	}
	return out
}

// GoRuntimePools returns the pools of the running Go process, backed by
// runtime/metrics memory classes: the garbage-collected heap, goroutine
// stacks, and runtime metadata.
func GoRuntimePools() []Pool {
	return []Pool{
		NewPool("go.heap", KindHeap, func() Usage {
			v := readRuntime(heapObjects, heapUnused, heapFree, gcLimit)
			limit := v[3]
			// GOMEMLIMIT defaults to MaxInt64, meaning no limit is set.
			if limit == math.MaxInt64 {
				limit = Unavailable
			}
			return Usage{
				Used:      v[0],
				Init:      Unavailable,
				Committed: v[0] + v[1] + v[2],
				Limit:     limit,
			}
		}),
		NewPool("go.stack", KindNonHeap, func() Usage {
			v := readRuntime(heapStacks)
			return Usage{
				Used:      v[0],
				Init:      Unavailable,
				Committed: v[0],
				Limit:     Unavailable,
			}
		}),
		NewPool("go.metadata", KindNonHeap, func() Usage {
			v := readRuntime(metadataMSpan, metadataMCach, metadataOther)
			total := v[0] + v[1] + v[2]
			return Usage{
				Used:      total,
				Init:      Unavailable,
				Committed: total,
				Limit:     Unavailable,
			}
		}),
	}
}

// HostPools returns pools describing the host the monitored process runs
// on: physical memory and swap. Host memory is outside the runtime heap,
// so both report as non-heap. A failed read reports every field
// unavailable for that cycle.
func HostPools() []Pool {
	return []Pool{
		NewPool("host.physical", KindNonHeap, func() Usage {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return unavailableUsage
			}
			committed := Unavailable
			if vm.CommittedAS > 0 {
				committed = clampUint64(vm.CommittedAS)
			}
			return Usage{
				Used:      clampUint64(vm.Used),
				Init:      Unavailable,
				Committed: committed,
				Limit:     clampUint64(vm.Total),
			}
		}),
		NewPool("host.swap", KindNonHeap, func() Usage {
			swap, err := mem.SwapMemory()
			if err != nil {
				return unavailableUsage
			}
			return Usage{
				Used:      clampUint64(swap.Used),
				Init:      Unavailable,
				Committed: Unavailable,
				Limit:     clampUint64(swap.Total),
			}
		}),
	}
}

func clampUint64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// sumOfPools aggregates a fixed pool list into the two coarse categories.
type sumOfPools struct {
	pools []Pool
}

// SumOfPools returns an AggregateSource that sums the given pools by kind,
// the way a whole-process memory view aggregates its pools. A field is
// unavailable when no pool of the category exists or any member reports
// it unavailable.
func SumOfPools(pools ...Pool) AggregateSource {
	return &sumOfPools{pools: pools}
}

func (s *sumOfPools) Heap() Usage    { return s.sum(KindHeap) }
func (s *sumOfPools) NonHeap() Usage { return s.sum(KindNonHeap) }

func (s *sumOfPools) sum(kind Kind) Usage {
	var members int
	var used, init, committed, limit fieldSum
	for _, p := range s.pools {
		if p.Kind() != kind {
			continue
		}
		members++
		u := p.Usage()
		used.add(u.Used)
		init.add(u.Init)
		committed.add(u.Committed)
		limit.add(u.Limit)
	}
	if members == 0 {
		return unavailableUsage
	}
	return Usage{
		Used:      used.reading(),
		Init:      init.reading(),
		Committed: committed.reading(),
		Limit:     limit.reading(),
	}
}

// fieldSum accumulates one field across pools. An unavailable member
// poisons the sum because a partial total would understate the category.
type fieldSum struct {
	total    int64
	poisoned bool
}

func (f *fieldSum) add(v int64) {
	if v == Unavailable {
		f.poisoned = true
		return
	}
	f.total += v
}

func (f *fieldSum) reading() int64 {
	if f.poisoned {
		return Unavailable
	}
	return f.total
}
