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

// Phase selects when a descriptor's advice runs relative to the woven
// method body.
type Phase int

const (
	// OnEntry runs advice before the method body.
	OnEntry Phase = iota

	// OnExit runs advice after the method body returns without error.
	OnExit

	// OnExitIncludingFailure runs advice after the method body finishes,
	// whether it returned normally, returned an error, or panicked. The
	// outcome is observed, never altered.
	OnExitIncludingFailure
)

// String returns the phase name used in diagnostics.
func (p Phase) String() string {
	switch p {
	case OnEntry:
		return "entry"
	case OnExit:
		return "exit"
	case OnExitIncludingFailure:
		return "exit-including-failure"
	}
	return "unknown"
}

// Invocation is the read-only view of one woven method call that advice
// receives. Advice must not mutate the argument values.
type Invocation struct {
	// TypeName and Method identify the woven site.
	TypeName string
	Method   string

	// Args are the declared arguments of the call, in order.
	Args []any

	// Result and Err carry the pending outcome. They are set only for the
	// exit phases; Err only when the phase includes failure.
	Result any
	Err    error

	// Recovered carries the panic value when the method body is unwinding,
	// for the exit-including-failure phase. The panic is re-raised
	// unchanged after advice runs.
	Recovered any
}

// Advice is the diagnostic code run at a woven method's entry or exit.
// ctx is the context of the host invocation; it carries the in-flight unit
// of work for collaborators such as span-naming policies.
type Advice interface {
	Observe(ctx context.Context, inv Invocation)
}

// AdviceFunc adapts a function to the Advice interface.
type AdviceFunc func(ctx context.Context, inv Invocation)

// Observe implements Advice.
func (f AdviceFunc) Observe(ctx context.Context, inv Invocation) {
	f(ctx, inv)
}

// Descriptor binds a predicate set to advice and an injection phase. It is
// immutable once registered with a Weaver.
//
// The method matcher list is conjunctive: a method is woven only when every
// matcher in Methods accepts it.
type Descriptor struct {
	// Name identifies the instrumentation module in diagnostics.
	Name string

	// Type selects the target types this descriptor applies to.
	Type TypeMatcher

	// Methods selects the methods within a matched type. An empty list
	// matches no methods.
	Methods []MethodMatcher

	// Advice is the diagnostic code to splice in.
	Advice Advice

	// Phase is the point at which Advice runs.
	Phase Phase
}
