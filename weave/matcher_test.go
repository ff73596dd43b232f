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

package weave

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeNamedExactMatch(t *testing.T) {
	m := TypeNamed("web/lifecycle.RestorePhase")

	require.True(t, m("web/lifecycle.RestorePhase"))
	require.False(t, m("web/lifecycle.RestorePhaseExt"))
	require.False(t, m("web/lifecycle.restorePhase"))
	require.False(t, m(""))
}

func TestMethodNamed(t *testing.T) {
	m := MethodNamed("Execute")

	require.True(t, m(Method{Name: "Execute"}))
	require.False(t, m(Method{Name: "execute"}))
}

func TestTakesArgument(t *testing.T) {
	method := Method{
		Name:       "Execute",
		ParamTypes: []string{"web.RequestContext", "string"},
	}

	require.True(t, TakesArgument(0, "web.RequestContext")(method))
	require.True(t, TakesArgument(1, "string")(method))
	require.False(t, TakesArgument(0, "string")(method))
	require.False(t, TakesArgument(2, "string")(method))
	require.False(t, TakesArgument(-1, "string")(method))
	require.False(t, TakesArgument(0, "web.RequestContext")(Method{Name: "Execute"}))
}

func TestMethodMatcherAnd(t *testing.T) {
	m := MethodNamed("Execute").And(TakesArgument(0, "web.RequestContext"))

	require.True(t, m(Method{Name: "Execute", ParamTypes: []string{"web.RequestContext"}}))
	require.False(t, m(Method{Name: "Execute", ParamTypes: []string{"string"}}))
	require.False(t, m(Method{Name: "Render", ParamTypes: []string{"web.RequestContext"}}))
}
