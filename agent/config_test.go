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

package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/openmonitor/agent-go/instrumentation/memory"
	"github.com/openmonitor/agent-go/weave"
)

type testSuite struct {
	suite.Suite

	testLogger
}

func (suite *testSuite) SetupTest() {
	suite.testLogger.reset()
}

func (suite *testSuite) TearDownTest() {
	unsetEnvironment()
	suite.testLogger.reset()
}

func TestAgentSuite(t *testing.T) {
	suite.Run(t, new(testSuite))
}

type testLogger struct {
	lock   sync.Mutex
	output []string
}

func (logger *testLogger) addOutput(output string) {
	logger.lock.Lock()
	defer logger.lock.Unlock()
	logger.output = append(logger.output, output)
}

func (logger *testLogger) Fatalf(format string, v ...interface{}) {
	logger.addOutput(fmt.Sprintf(format, v...))
}

func (logger *testLogger) Debugf(format string, v ...interface{}) {
	logger.addOutput(fmt.Sprintf(format, v...))
}

func (logger *testLogger) reset() {
	logger.lock.Lock()
	defer logger.lock.Unlock()
	logger.output = nil
}

func (logger *testLogger) requireContains(t *testing.T, expected string) {
	t.Helper()
	logger.lock.Lock()
	defer logger.lock.Unlock()
	for _, output := range logger.output {
		if strings.Contains(output, expected) {
			return
		}
	}
	t.Errorf("\nString unavailable: %s\nIn: %v", expected, logger.output)
}

func unsetEnvironment() {
	vars := []string{
		"MONITOR_SERVICE_NAME",
		"MONITOR_SERVICE_VERSION",
		"MONITOR_LOG_LEVEL",
		"MONITOR_MEMORY_METRICS_ENABLED",
		"MONITOR_RESOURCE_ATTRIBUTES",
	}
	for _, envvar := range vars {
		_ = os.Unsetenv(envvar)
	}
}

func (suite *testSuite) TestDefaults() {
	config := newConfig(WithLogger(&suite.testLogger))

	suite.Equal("unknown", config.ServiceVersion)
	suite.Equal("info", config.LogLevel)
	suite.True(config.MemoryMetricsEnabled)
	suite.Empty(suite.output)
}

func (suite *testSuite) TestEnvironmentVariables() {
	suite.NoError(os.Setenv("MONITOR_SERVICE_NAME", "test-service"))
	suite.NoError(os.Setenv("MONITOR_SERVICE_VERSION", "v1.2.3"))
	suite.NoError(os.Setenv("MONITOR_LOG_LEVEL", "debug"))
	suite.NoError(os.Setenv("MONITOR_MEMORY_METRICS_ENABLED", "false"))

	config := newConfig(WithLogger(&suite.testLogger))

	suite.Equal("test-service", config.ServiceName)
	suite.Equal("v1.2.3", config.ServiceVersion)
	suite.Equal("debug", config.LogLevel)
	suite.False(config.MemoryMetricsEnabled)
}

func (suite *testSuite) TestOptionsOverrideEnvironment() {
	suite.NoError(os.Setenv("MONITOR_SERVICE_NAME", "from-env"))

	config := newConfig(
		WithLogger(&suite.testLogger),
		WithServiceName("from-code"),
	)

	suite.Equal("from-code", config.ServiceName)
}

func (suite *testSuite) TestInvalidEnvironment() {
	suite.NoError(os.Setenv("MONITOR_MEMORY_METRICS_ENABLED", "maybe"))

	newConfig(WithLogger(&suite.testLogger))

	suite.requireContains(suite.T(), "environment error")
}

func (suite *testSuite) TestServiceNameRequired() {
	agent := ConfigureMonitoring(
		WithLogger(&suite.testLogger),
		WithMemoryMetricsEnabled(false),
	)
	defer agent.Shutdown()

	suite.requireContains(suite.T(), "service name missing")
}

func (suite *testSuite) TestDebugLogging() {
	agent := ConfigureMonitoring(
		WithLogger(&suite.testLogger),
		WithServiceName("test-service"),
		WithLogLevel("debug"),
		WithMemoryMetricsEnabled(false),
	)
	defer agent.Shutdown()

	suite.requireContains(suite.T(), "debug logging enabled")
	suite.requireContains(suite.T(), "memory metrics are disabled by configuration")
}

func (suite *testSuite) TestResourceAttributes() {
	agent := ConfigureMonitoring(
		WithLogger(&suite.testLogger),
		WithServiceName("test-service"),
		WithServiceVersion("v9"),
		WithMemoryMetricsEnabled(false),
	)
	defer agent.Shutdown()

	var name, version string
	for _, kv := range agent.Resource().Attributes() {
		switch kv.Key {
		case semconv.ServiceNameKey:
			name = kv.Value.AsString()
		case semconv.ServiceVersionKey:
			version = kv.Value.AsString()
		}
	}
	suite.Equal("test-service", name)
	suite.Equal("v9", version)
}

func (suite *testSuite) TestConfigureRegistersModulesAndMemory() {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { suite.NoError(provider.Shutdown(context.Background())) }()

	var observed int
	module := weave.Descriptor{
		Name:    "test-module",
		Type:    weave.TypeNamed("svc.Handler"),
		Methods: []weave.MethodMatcher{weave.MethodNamed("Handle")},
		Advice: weave.AdviceFunc(func(ctx context.Context, inv weave.Invocation) {
			observed++
		}),
		Phase: weave.OnEntry,
	}

	pool := memory.NewPool("P1", memory.KindHeap, func() memory.Usage {
		return memory.Usage{Used: 11, Init: 1, Committed: 11, Limit: 22}
	})

	agent := ConfigureMonitoring(
		WithLogger(&suite.testLogger),
		WithServiceName("test-service"),
		WithMeterProvider(provider),
		WithModules(module),
		WithMemoryPools(pool),
	)

	target := &weave.Target{
		TypeName: "svc.Handler",
		Methods: []weave.Method{{
			Name: "Handle",
			Body: func(ctx context.Context, args []any) (any, error) {
				return nil, nil
			},
		}},
	}
	suite.Len(agent.Weaver().Load(target), 1)

	_, err := target.Invoke(context.Background(), "Handle")
	suite.NoError(err)
	suite.Equal(1, observed)

	var rm metricdata.ResourceMetrics
	suite.NoError(reader.Collect(context.Background(), &rm))
	suite.True(hasMetric(rm, "process.runtime.memory.pool.usage"))

	agent.Shutdown()

	suite.NoError(reader.Collect(context.Background(), &rm))
	suite.False(hasMetric(rm, "process.runtime.memory.pool.usage"))
}

func hasMetric(rm metricdata.ResourceMetrics, name string) bool {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
				return true
			}
		}
	}
	return false
}

func newCapturingZap() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func (suite *testSuite) TestZapLoggerAdapter() {
	core, logs := newCapturingZap()
	logger := NewZapLogger(core)

	logger.Debugf("weaving %d modules", 3)

	suite.Len(logs.All(), 1)
	suite.Equal("weaving 3 modules", logs.All()[0].Message)
}
