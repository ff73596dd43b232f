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

package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openmonitor/agent-go/weave"
)

const (
	restoreType = "web/lifecycle.RestorePhase"
	requestCtx  = "web.RequestContext"
)

type viewKey struct{}

func newRestoreTarget(body weave.MethodFunc) *weave.Target {
	return &weave.Target{
		TypeName: restoreType,
		Methods: []weave.Method{{
			Name:       "Execute",
			ParamTypes: []string{requestCtx},
			Body:       body,
		}},
	}
}

func TestPhaseDescriptorInvokesPolicyOnExit(t *testing.T) {
	w := weave.NewWeaver()

	var got []any
	policy := func(ctx context.Context) {
		got = append(got, ctx.Value(viewKey{}))
	}
	require.NoError(t, w.Register(PhaseDescriptor(restoreType, "Execute", requestCtx, policy)))

	target := newRestoreTarget(func(ctx context.Context, args []any) (any, error) {
		return "ok", nil
	})
	require.Len(t, w.Load(target), 1)

	ctx := context.WithValue(context.Background(), viewKey{}, "view-7")
	_, err := target.Invoke(ctx, "Execute", "req")
	require.NoError(t, err)
	require.Equal(t, []any{"view-7"}, got)
}

func TestPhaseDescriptorInvokesPolicyOnFailure(t *testing.T) {
	w := weave.NewWeaver()

	calls := 0
	require.NoError(t, w.Register(PhaseDescriptor(restoreType, "Execute", requestCtx, func(context.Context) {
		calls++
	})))

	boom := errors.New("restore failed")
	target := newRestoreTarget(func(ctx context.Context, args []any) (any, error) {
		return nil, boom
	})
	w.Load(target)

	_, err := target.Invoke(context.Background(), "Execute", "req")
	require.Same(t, boom, err)
	require.Equal(t, 1, calls)
}

func TestPolicyPanicNeverReachesHost(t *testing.T) {
	var seen []error
	w := weave.NewWeaver(weave.WithErrorHandler(func(err error) {
		seen = append(seen, err)
	}))

	require.NoError(t, w.Register(PhaseDescriptor(restoreType, "Execute", requestCtx, func(context.Context) {
		panic("policy bug")
	})))

	target := newRestoreTarget(func(ctx context.Context, args []any) (any, error) {
		return 42, nil
	})
	w.Load(target)

	got, err := target.Invoke(context.Background(), "Execute", "req")
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Len(t, seen, 1)
}

func TestSpanNamePolicyRenamesActiveSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	policy := SpanNamePolicy(func(ctx context.Context) string {
		v, _ := ctx.Value(viewKey{}).(string)
		return v
	})

	ctx, span := tracer.Start(context.Background(), "provisional")

	// Last-writer semantics: a later call overwrites an earlier name.
	policy(context.WithValue(ctx, viewKey{}, "first"))
	policy(context.WithValue(ctx, viewKey{}, "second"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "second", ended[0].Name())
}

func TestSpanNamePolicyLeavesNameWhenEmpty(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	policy := SpanNamePolicy(func(ctx context.Context) string { return "" })

	ctx, span := tracer.Start(context.Background(), "provisional")
	policy(ctx)
	span.End()

	require.Equal(t, "provisional", recorder.Ended()[0].Name())
}

func TestSpanNamePolicyNoSpanIsNoop(t *testing.T) {
	derived := 0
	policy := SpanNamePolicy(func(ctx context.Context) string {
		derived++
		return "name"
	})

	require.NotPanics(t, func() {
		policy(context.Background())
	})
	require.Zero(t, derived, "no derivation without a recording span")
}
