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

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
)

// MethodFunc is the executable body of a target method. ctx carries the
// in-flight unit of work; args are the declared arguments in order.
type MethodFunc func(ctx context.Context, args []any) (any, error)

// Method is one executable unit of a Target.
type Method struct {
	// Name is the method name.
	Name string

	// ParamTypes holds the fully-qualified type names of the declared
	// parameters, in declaration order.
	ParamTypes []string

	// Body is the method implementation. The weaver replaces it with an
	// advice-invoking wrapper when a descriptor matches.
	Body MethodFunc
}

// Target is one loaded unit presented to the weaver. The host constructs a
// Target, calls Weaver.Load, and only then publishes the target for
// execution; the weaver relies on that ordering and does not synchronize
// with callers of the target's methods.
type Target struct {
	// TypeName is the fully-qualified name of the loaded type.
	TypeName string

	// Methods are the target's executable units.
	Methods []Method

	sites []*WovenSite
}

// Sites returns the woven sites installed on the target, in weaving order.
func (t *Target) Sites() []*WovenSite {
	return t.sites
}

// Invoke calls the named method. Callers outside tests normally hold their
// own reference to the method body; Invoke is a convenience for hosts that
// dispatch by name.
func (t *Target) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	for i := range t.Methods {
		if t.Methods[i].Name == method {
			return t.Methods[i].Body(ctx, args)
		}
	}
	return nil, fmt.Errorf("weave: %s has no method %q", t.TypeName, method)
}

// WovenSite is the permanent binding of one loaded target to the advice of
// one descriptor. It is created exactly once per (target, descriptor) pair
// and never removed; there is no unweave operation.
type WovenSite struct {
	// TypeName is the woven target's type name.
	TypeName string

	// Module is the descriptor's Name.
	Module string

	// Methods are the names of the methods the advice was applied to.
	Methods []string

	descriptor *Descriptor
}

// MatchError reports a predicate that failed to evaluate for one module.
// It never blocks evaluation of other modules.
type MatchError struct {
	Module   string
	TypeName string
	Cause    any
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("weave: module %q: match evaluation failed for %s: %v", e.Module, e.TypeName, e.Cause)
}

// AdviceError reports a fault raised by advice. It is delivered to the
// weaver's error handler only and never reaches the instrumented call.
type AdviceError struct {
	Module   string
	TypeName string
	Method   string
	Cause    any
}

func (e *AdviceError) Error() string {
	return fmt.Sprintf("weave: module %q: advice failed in %s.%s: %v", e.Module, e.TypeName, e.Method, e.Cause)
}

// ErrorHandler receives faults recovered inside the weaver: match
// evaluation failures and advice panics.
type ErrorHandler func(error)

// WeaverOption configures a Weaver.
type WeaverOption func(*Weaver)

// WithErrorHandler routes recovered faults to handler instead of the
// global OpenTelemetry error handler.
func WithErrorHandler(handler ErrorHandler) WeaverOption {
	return func(w *Weaver) {
		if handler != nil {
			w.handler = handler
		}
	}
}

// Weaver applies registered descriptors to freshly loaded targets.
//
// The host serializes loading per target; the weaver's own registry is
// still guarded so that distinct targets may load concurrently and
// descriptors may be registered while targets load.
type Weaver struct {
	mu          sync.Mutex
	descriptors []*Descriptor
	handler     ErrorHandler
}

// NewWeaver returns an empty weaver.
func NewWeaver(opts ...WeaverOption) *Weaver {
	w := &Weaver{
		handler: func(err error) { otel.Handle(err) },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Register adds a descriptor to the weaver. Descriptors are evaluated in
// registration order; all matching descriptors apply to a target.
func (w *Weaver) Register(d Descriptor) error {
	if d.Type == nil {
		return errors.New("weave: descriptor needs a type matcher")
	}
	if d.Advice == nil {
		return errors.New("weave: descriptor needs advice")
	}
	if d.Phase < OnEntry || d.Phase > OnExitIncludingFailure {
		return fmt.Errorf("weave: descriptor %q: invalid phase %d", d.Name, d.Phase)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.descriptors = append(w.descriptors, &d)
	return nil
}

// Load tests the target against every registered descriptor and splices
// advice into the matching methods. It must be called before the target is
// published; after Load returns, the target's method bodies may run
// concurrently on any number of goroutines.
//
// Load is idempotent per (target, descriptor) pair: re-presenting an
// already-woven target never double-injects. A target matching nothing is
// left untouched and not retained. The new sites are returned.
func (w *Weaver) Load(t *Target) []*WovenSite {
	w.mu.Lock()
	descriptors := w.descriptors
	w.mu.Unlock()

	var out []*WovenSite
	for _, d := range descriptors {
		if t.wovenBy(d) {
			continue
		}
		indexes, err := matchMethods(d, t)
		if err != nil {
			w.handler(err)
			continue
		}
		if len(indexes) == 0 {
			continue
		}
		site := &WovenSite{
			TypeName:   t.TypeName,
			Module:     d.Name,
			descriptor: d,
		}
		for _, i := range indexes {
			m := &t.Methods[i]
			m.Body = w.wrap(d, t.TypeName, m.Name, m.Body)
			site.Methods = append(site.Methods, m.Name)
		}
		t.sites = append(t.sites, site)
		out = append(out, site)
	}
	return out
}

func (t *Target) wovenBy(d *Descriptor) bool {
	for _, s := range t.sites {
		if s.descriptor == d {
			return true
		}
	}
	return false
}

// matchMethods evaluates the descriptor's predicates against the target.
// Predicate panics are converted to a MatchError so one broken module
// cannot block the others.
func matchMethods(d *Descriptor, t *Target) (indexes []int, err error) {
	defer func() {
		if r := recover(); r != nil {
			indexes = nil
			err = &MatchError{Module: d.Name, TypeName: t.TypeName, Cause: r}
		}
	}()
	if !d.Type(t.TypeName) {
		return nil, nil
	}
	if len(d.Methods) == 0 {
		return nil, nil
	}
outer:
	for i := range t.Methods {
		for _, match := range d.Methods {
			if !match(t.Methods[i]) {
				continue outer
			}
		}
		indexes = append(indexes, i)
	}
	return indexes, nil
}

// wrap returns the advice-invoking replacement for a matched method body.
// The wrapper preserves the body's signature and outcome exactly.
func (w *Weaver) wrap(d *Descriptor, typeName, methodName string, body MethodFunc) MethodFunc {
	switch d.Phase {
	case OnEntry:
		return func(ctx context.Context, args []any) (any, error) {
			w.runAdvice(d, ctx, Invocation{
				TypeName: typeName,
				Method:   methodName,
				Args:     args,
			})
			return body(ctx, args)
		}
	case OnExit:
		return func(ctx context.Context, args []any) (any, error) {
			result, err := body(ctx, args)
			if err == nil {
				w.runAdvice(d, ctx, Invocation{
					TypeName: typeName,
					Method:   methodName,
					Args:     args,
					Result:   result,
				})
			}
			return result, err
		}
	default: // OnExitIncludingFailure
		return func(ctx context.Context, args []any) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					w.runAdvice(d, ctx, Invocation{
						TypeName:  typeName,
						Method:    methodName,
						Args:      args,
						Recovered: r,
					})
					panic(r)
				}
			}()
			result, err = body(ctx, args)
			w.runAdvice(d, ctx, Invocation{
				TypeName: typeName,
				Method:   methodName,
				Args:     args,
				Result:   result,
				Err:      err,
			})
			return result, err
		}
	}
}
