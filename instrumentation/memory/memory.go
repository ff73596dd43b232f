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
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
)

// ScopeName is the instrumentation scope of this package's instruments.
const ScopeName = "github.com/openmonitor/agent-go/instrumentation/memory"

// Unavailable is the sentinel a source reports when a reading does not
// exist. It is never emitted as a measurement.
const Unavailable int64 = -1

var (
	poolKey = attribute.Key("pool")
	typeKey = attribute.Key("type")
)

// Kind partitions memory into the two coarse aggregate categories.
type Kind int

const (
	KindHeap Kind = iota
	KindNonHeap
)

// String returns the attribute value used for the kind.
func (k Kind) String() string {
	if k == KindHeap {
		return "heap"
	}
	return "non_heap"
}

// Usage is one snapshot of a memory entity. Any field may be Unavailable.
// Readings come from sources the monitored process mutates without
// coordination, so values may be mutually inconsistent; callers must not
// expect a coherent snapshot.
type Usage struct {
	Used      int64
	Init      int64
	Committed int64
	Limit     int64
}

// Pool is an opaque provider of readings for one memory pool. Name and
// Kind must be stable for the lifetime of a registration; Usage is called
// once per pool per collection cycle.
type Pool interface {
	Name() string
	Kind() Kind
	Usage() Usage
}

// AggregateSource provides one reading per coarse category from a single
// aggregate view of memory.
type AggregateSource interface {
	Heap() Usage
	NonHeap() Usage
}

// config contains settings for memory metric reporting.
type config struct {
	provider  metric.MeterProvider
	pools     []Pool
	aggregate AggregateSource
}

// Option supports configuring memory metric reporting.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) {
	f(c)
}

// WithMeterProvider sets the metric.MeterProvider to report through. If
// this option is not used, the global provider is used.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return optionFunc(func(c *config) {
		if provider != nil {
			c.provider = provider
		}
	})
}

// WithPools sets the pools observed by the per-pool instruments. The list
// is captured at registration time: order and identity must stay stable
// for the lifetime of the registration, and pools that appear later need a
// fresh Start.
func WithPools(pools ...Pool) Option {
	return optionFunc(func(c *config) {
		c.pools = pools
	})
}

// WithAggregate sets the source observed by the aggregate instruments.
func WithAggregate(source AggregateSource) Option {
	return optionFunc(func(c *config) {
		if source != nil {
			c.aggregate = source
		}
	})
}

func newConfig(opts ...Option) config {
	c := config{
		provider: otel.GetMeterProvider(),
		pools:    GoRuntimePools(),
	}
	for _, opt := range opts {
		opt.apply(&c)
	}
	if c.aggregate == nil {
		c.aggregate = SumOfPools(c.pools...)
	}
	return c
}

// Observation is a handle on the registered memory instruments.
type Observation struct {
	mu   sync.Mutex
	regs []metric.Registration
}

// Unregister stops future collection of the memory instruments. A cycle
// already in flight completes best-effort; from the next cycle on, no
// measurements are emitted. Unregister is idempotent.
func (o *Observation) Unregister() error {
	o.mu.Lock()
	regs := o.regs
	o.regs = nil
	o.mu.Unlock()

	var err error
	for _, reg := range regs {
		err = multierr.Append(err, reg.Unregister())
	}
	return err
}

// reading names one of the four readings every source exposes.
type reading struct {
	suffix      string
	description string
	poolDesc    string
	extract     func(Usage) int64
}

var readings = []reading{
	{
		suffix:      "usage",
		description: "Measure of memory used",
		poolDesc:    "Measure of memory pool used",
		extract:     func(u Usage) int64 { return u.Used },
	},
	{
		suffix:      "init",
		description: "Measure of initial memory requested",
		poolDesc:    "Measure of initial memory pool requested",
		extract:     func(u Usage) int64 { return u.Init },
	},
	{
		suffix:      "committed",
		description: "Measure of memory committed",
		poolDesc:    "Measure of memory pool committed",
		extract:     func(u Usage) int64 { return u.Committed },
	},
	{
		suffix:      "limit",
		description: "Measure of max obtainable memory",
		poolDesc:    "Measure of max obtainable memory pool",
		extract:     func(u Usage) int64 { return u.Limit },
	},
}

// Start registers the memory instruments: four per-pool up-down counters
// split by pool attribute set and four aggregate up-down counters split by
// heap/non-heap. Registration performs no measurement; measurement happens
// when the collection scheduler invokes the callbacks.
func Start(opts ...Option) (*Observation, error) {
	c := newConfig(opts...)
	meter := c.provider.Meter(ScopeName)

	obs := &Observation{}
	for _, r := range readings {
		inst, err := meter.Int64ObservableUpDownCounter(
			"process.runtime.memory.pool."+r.suffix,
			metric.WithUnit("By"),
			metric.WithDescription(r.poolDesc),
		)
		if err != nil {
			return nil, abort(obs, err)
		}
		reg, err := meter.RegisterCallback(poolCallback(c.pools, r.extract, inst), inst)
		if err != nil {
			return nil, abort(obs, err)
		}
		obs.regs = append(obs.regs, reg)
	}

	for _, r := range readings {
		inst, err := meter.Int64ObservableUpDownCounter(
			"process.runtime.memory."+r.suffix,
			metric.WithUnit("By"),
			metric.WithDescription(r.description),
		)
		if err != nil {
			return nil, abort(obs, err)
		}
		reg, err := meter.RegisterCallback(aggregateCallback(c.aggregate, r.extract, inst), inst)
		if err != nil {
			return nil, abort(obs, err)
		}
		obs.regs = append(obs.regs, reg)
	}
	return obs, nil
}

func abort(obs *Observation, err error) error {
	return multierr.Append(err, obs.Unregister())
}

// poolCallback builds the pool attribute sets exactly once, index-aligned
// with the pool list, and returns the per-cycle sampling callback.
func poolCallback(pools []Pool, extract func(Usage) int64, inst metric.Int64Observable) metric.Callback {
	attrs := make([]attribute.Set, len(pools))
	for i, p := range pools {
		attrs[i] = attribute.NewSet(
			poolKey.String(p.Name()),
			typeKey.String(p.Kind().String()),
		)
	}

	return func(ctx context.Context, o metric.Observer) error {
		for i, p := range pools {
			u, ok := readPool(p)
			if !ok {
				continue
			}
			if v := extract(u); v != Unavailable {
				o.ObserveInt64(inst, v, metric.WithAttributeSet(attrs[i]))
			}
		}
		return nil
	}
}

// aggregateCallback builds the two category attribute sets once and
// returns the per-cycle sampling callback. Each category's availability is
// checked independently.
func aggregateCallback(source AggregateSource, extract func(Usage) int64, inst metric.Int64Observable) metric.Callback {
	heapAttrs := attribute.NewSet(typeKey.String(KindHeap.String()))
	nonHeapAttrs := attribute.NewSet(typeKey.String(KindNonHeap.String()))

	return func(ctx context.Context, o metric.Observer) error {
		if u, ok := readAggregate(source, AggregateSource.Heap); ok {
			if v := extract(u); v != Unavailable {
				o.ObserveInt64(inst, v, metric.WithAttributeSet(heapAttrs))
			}
		}
		if u, ok := readAggregate(source, AggregateSource.NonHeap); ok {
			if v := extract(u); v != Unavailable {
				o.ObserveInt64(inst, v, metric.WithAttributeSet(nonHeapAttrs))
			}
		}
		return nil
	}
}

// readPool isolates one pool read: a panicking source contributes nothing
// this cycle and does not block the remaining pools or instruments.
func readPool(p Pool) (u Usage, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			otel.Handle(fmt.Errorf("memory: pool %q read failed: %v", p.Name(), r))
		}
	}()
	return p.Usage(), true
}

func readAggregate(source AggregateSource, read func(AggregateSource) Usage) (u Usage, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			otel.Handle(fmt.Errorf("memory: aggregate read failed: %v", r))
		}
	}()
	return read(source), true
}
