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

// Package agent wires the monitoring core together: it reads configuration
// from the environment, registers the configured instrumentation modules
// with a weaver, and starts the memory instruments. The export pipeline
// that ships the produced telemetry is the embedding agent's concern.
package agent // import "github.com/openmonitor/agent-go/agent"

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/sethvargo/go-envconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/openmonitor/agent-go/instrumentation/memory"
	"github.com/openmonitor/agent-go/weave"
)

const version = "0.1.0"

type Option func(*Config)

// WithServiceName configures a "service.name" resource label.
func WithServiceName(name string) Option {
	return func(c *Config) {
		c.ServiceName = name
	}
}

// WithServiceVersion configures a "service.version" resource label.
func WithServiceVersion(v string) Option {
	return func(c *Config) {
		c.ServiceVersion = v
	}
}

// WithLogLevel configures the logging level for the agent's diagnostics.
func WithLogLevel(loglevel string) Option {
	return func(c *Config) {
		c.LogLevel = loglevel
	}
}

// WithLogger configures the agent's diagnostics logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithErrorHandler configures a global error handler for faults recovered
// inside woven advice and sampling callbacks. See "go.opentelemetry.io/otel".
func WithErrorHandler(handler otel.ErrorHandler) Option {
	return func(c *Config) {
		c.errorHandler = handler
	}
}

// WithMeterProvider sets the metric.MeterProvider the memory instruments
// report through. If this option is not used, the global provider is used.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *Config) {
		c.meterProvider = provider
	}
}

// WithResourceAttributes configures attributes on the resource.
func WithResourceAttributes(attributes map[string]string) Option {
	return func(c *Config) {
		c.ResourceAttributes = attributes
	}
}

// WithModules registers instrumentation modules with the agent's weaver.
func WithModules(modules ...weave.Descriptor) Option {
	return func(c *Config) {
		c.modules = append(c.modules, modules...)
	}
}

// WithMemoryMetricsEnabled configures whether the memory instruments are
// registered.
func WithMemoryMetricsEnabled(enabled bool) Option {
	return func(c *Config) {
		c.MemoryMetricsEnabled = enabled
	}
}

// WithMemoryPools overrides the pools observed by the memory instruments.
func WithMemoryPools(pools ...memory.Pool) Option {
	return func(c *Config) {
		c.memoryPools = pools
		c.memoryPoolsSet = true
	}
}

// WithMemoryAggregate overrides the aggregate source observed by the
// memory instruments.
func WithMemoryAggregate(source memory.AggregateSource) Option {
	return func(c *Config) {
		c.memoryAggregate = source
	}
}

type defaultHandler struct {
	logger Logger
}

func (l *defaultHandler) Handle(err error) {
	l.logger.Debugf("error: %v\n", err)
}

type Config struct {
	ServiceName          string            `env:"MONITOR_SERVICE_NAME"`
	ServiceVersion       string            `env:"MONITOR_SERVICE_VERSION,default=unknown"`
	LogLevel             string            `env:"MONITOR_LOG_LEVEL,default=info"`
	MemoryMetricsEnabled bool              `env:"MONITOR_MEMORY_METRICS_ENABLED,default=true"`
	ResourceAttributes   map[string]string `env:"MONITOR_RESOURCE_ATTRIBUTES"`
	Resource             *resource.Resource

	modules         []weave.Descriptor
	memoryPools     []memory.Pool
	memoryPoolsSet  bool
	memoryAggregate memory.AggregateSource
	meterProvider   metric.MeterProvider
	logger          Logger
	errorHandler    otel.ErrorHandler
}

func validateConfiguration(c Config) error {
	if len(c.ServiceName) == 0 {
		serviceNameSet := false
		for _, kv := range c.Resource.Attributes() {
			if kv.Key == semconv.ServiceNameKey {
				if len(kv.Value.AsString()) > 0 {
					serviceNameSet = true
				}
				break
			}
		}
		if !serviceNameSet {
			return errors.New("invalid configuration: service name missing. Set MONITOR_SERVICE_NAME env var or configure WithServiceName in code")
		}
	}
	return nil
}

func newConfig(opts ...Option) Config {
	var c Config
	envError := envconfig.Process(context.Background(), &c)
	c.logger = &DefaultLogger{}
	c.errorHandler = &defaultHandler{logger: c.logger}

	for _, opt := range opts {
		opt(&c)
	}
	c.Resource = newResource(&c)

	if envError != nil {
		c.logger.Fatalf("environment error: %v", envError)
	}

	return c
}

func newResource(c *Config) *resource.Resource {
	r := resource.Environment()

	hostnameSet := false
	for iter := r.Iter(); iter.Next(); {
		if iter.Attribute().Key == semconv.HostNameKey && len(iter.Attribute().Value.Emit()) > 0 {
			hostnameSet = true
		}
	}

	attributes := []attribute.KeyValue{
		semconv.TelemetrySDKNameKey.String("agent-go"),
		semconv.TelemetrySDKLanguageGo,
		semconv.TelemetrySDKVersionKey.String(version),
	}

	if len(c.ServiceName) > 0 {
		attributes = append(attributes, semconv.ServiceNameKey.String(c.ServiceName))
	}

	if len(c.ServiceVersion) > 0 {
		attributes = append(attributes, semconv.ServiceVersionKey.String(c.ServiceVersion))
	}

	for key, value := range c.ResourceAttributes {
		if len(value) > 0 {
			if key == string(semconv.HostNameKey) {
				hostnameSet = true
			}
			attributes = append(attributes, attribute.String(key, value))
		}
	}

	if !hostnameSet {
		hostname, err := os.Hostname()
		if err != nil {
			c.logger.Debugf("unable to set host.name. Set OTEL_RESOURCE_ATTRIBUTES=\"host.name=<your_host_name>\" env var or configure WithResourceAttributes in code: %v", err)
		} else {
			attributes = append(attributes, semconv.HostNameKey.String(hostname))
		}
	}

	attributes = append(r.Attributes(), attributes...)

	// These detectors can't actually fail, ignoring the error.
	r, _ = resource.New(
		context.Background(),
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(attributes...),
	)
	return r
}

// Agent is the configured monitoring core. The host registers loaded
// targets through Weaver; the embedding agent attaches its own export
// pipeline to the configured meter provider.
type Agent struct {
	config        Config
	weaver        *weave.Weaver
	shutdownFuncs []func() error
}

// Weaver returns the weaver holding the configured instrumentation
// modules. The host calls Weaver().Load for every unit it loads.
func (a Agent) Weaver() *weave.Weaver {
	return a.weaver
}

// Resource describes the monitored process for the embedding agent's
// export pipeline.
func (a Agent) Resource() *resource.Resource {
	return a.config.Resource
}

// Shutdown de-registers everything the agent registered. Instruments stop
// emitting from the next collection cycle onward; woven advice stays in
// place, weaving is not reversible.
func (a Agent) Shutdown() {
	for _, shutdown := range a.shutdownFuncs {
		if err := shutdown(); err != nil {
			a.config.logger.Fatalf("failed to stop instrumentation: %v", err)
		}
	}
}

type setupFunc func(Config) (func() error, error)

func setupMemoryMetrics(c Config) (func() error, error) {
	if !c.MemoryMetricsEnabled {
		c.logger.Debugf("memory metrics are disabled by configuration")
		return nil, nil
	}
	opts := []memory.Option{}
	if c.meterProvider != nil {
		opts = append(opts, memory.WithMeterProvider(c.meterProvider))
	}
	if c.memoryPoolsSet {
		opts = append(opts, memory.WithPools(c.memoryPools...))
	}
	if c.memoryAggregate != nil {
		opts = append(opts, memory.WithAggregate(c.memoryAggregate))
	}
	obs, err := memory.Start(opts...)
	if err != nil {
		return nil, err
	}
	return obs.Unregister, nil
}

// ConfigureMonitoring assembles the monitoring core from the environment
// and the given options.
func ConfigureMonitoring(opts ...Option) Agent {
	c := newConfig(opts...)

	if c.LogLevel == "debug" {
		c.logger.Debugf("debug logging enabled")
		c.logger.Debugf("configuration")
		s, _ := json.MarshalIndent(c, "", "\t")
		c.logger.Debugf(string(s))
	}

	if err := validateConfiguration(c); err != nil {
		c.logger.Fatalf("configuration error: %v", err)
	}

	if c.errorHandler != nil {
		otel.SetErrorHandler(c.errorHandler)
	}

	a := Agent{
		config: c,
		weaver: weave.NewWeaver(),
	}

	for _, d := range c.modules {
		if err := a.weaver.Register(d); err != nil {
			c.logger.Fatalf("module error: %v", err)
		}
	}

	for _, setup := range []setupFunc{setupMemoryMetrics} {
		shutdown, err := setup(c)
		if err != nil {
			c.logger.Fatalf("setup error: %v", err)
			continue
		}
		if shutdown != nil {
			a.shutdownFuncs = append(a.shutdownFuncs, shutdown)
		}
	}
	return a
}
