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

// Package lifecycle instruments request-lifecycle phase types so that the
// active trace span is renamed with a human-readable description of the
// in-flight unit of work once a phase completes.
//
// The naming policy itself is a collaborator: it is invoked with the
// invocation's context at every matched exit and may run more than once
// per unit of work with last-writer semantics. The advice only delivers
// the context; it never inspects or alters the phase's outcome.
package lifecycle // import "github.com/openmonitor/agent-go/instrumentation/lifecycle"

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/openmonitor/agent-go/weave"
)

// NamingPolicy computes and stores a name for the unit of work carried by
// ctx. Implementations must tolerate repeated invocation for the same unit
// of work; a later call overwrites an earlier provisional name.
type NamingPolicy func(ctx context.Context)

// SpanNamePolicy returns a NamingPolicy that renames the span recorded in
// ctx. name derives the label from the context; an empty result leaves the
// current span name in place.
func SpanNamePolicy(name func(ctx context.Context) string) NamingPolicy {
	return func(ctx context.Context) {
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return
		}
		if n := name(ctx); n != "" {
			span.SetName(n)
		}
	}
}

// PhaseDescriptor builds the descriptor for one lifecycle phase type: it
// matches methodName on the exact typeName, requiring the first declared
// parameter to be of contextParamType, and runs policy at exit whether the
// phase succeeded or failed.
func PhaseDescriptor(typeName, methodName, contextParamType string, policy NamingPolicy) weave.Descriptor {
	return weave.Descriptor{
		Name: "lifecycle/" + typeName,
		Type: weave.TypeNamed(typeName),
		Methods: []weave.MethodMatcher{
			weave.MethodNamed(methodName),
			weave.TakesArgument(0, contextParamType),
		},
		Advice: weave.AdviceFunc(func(ctx context.Context, inv weave.Invocation) {
			policy(ctx)
		}),
		Phase: weave.OnExitIncludingFailure,
	}
}
