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

// TypeMatcher reports whether a target type is selected by a descriptor.
// Implementations must be pure: deterministic and free of side effects.
type TypeMatcher func(typeName string) bool

// MethodMatcher reports whether a target method is selected by a
// descriptor. Implementations must be pure.
type MethodMatcher func(m Method) bool

// TypeNamed matches a type by its exact fully-qualified name.
// There is no wildcard form.
func TypeNamed(name string) TypeMatcher {
	return func(typeName string) bool {
		return typeName == name
	}
}

// MethodNamed matches a method by its exact name.
func MethodNamed(name string) MethodMatcher {
	return func(m Method) bool {
		return m.Name == name
	}
}

// TakesArgument matches a method whose parameter at index has the given
// fully-qualified type name. A method with fewer parameters does not match.
func TakesArgument(index int, typeName string) MethodMatcher {
	return func(m Method) bool {
		return index >= 0 && index < len(m.ParamTypes) && m.ParamTypes[index] == typeName
	}
}

// And combines two method matchers conjunctively.
func (f MethodMatcher) And(other MethodMatcher) MethodMatcher {
	return func(m Method) bool {
		return f(m) && other(m)
	}
}
