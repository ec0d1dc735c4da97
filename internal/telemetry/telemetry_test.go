package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentcouncil/config"
)

// keepGlobals 在测试结束时恢复全局 Provider
func keepGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func enabledConfig() config.TelemetryConfig {
	cfg := config.DefaultTelemetryConfig()
	cfg.Enabled = true
	cfg.ServiceName = "agentcouncil-test"
	cfg.Environment = "ci"
	cfg.MetricInterval = time.Minute
	return cfg
}

func shutdown(t *testing.T, p *Providers) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		// 没有 collector，导出错误可以忽略
		_ = p.Shutdown(ctx)
	})
}

func TestInit_DisabledIsNoop(t *testing.T) {
	keepGlobals(t)
	before := otel.GetTracerProvider()

	p, err := Init(config.DefaultTelemetryConfig(), nil)
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.Same(t, before, otel.GetTracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_RegistersGlobalProviders(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		t.Run(map[bool]string{true: "plaintext", false: "tls"}[insecure], func(t *testing.T) {
			keepGlobals(t)
			cfg := enabledConfig()
			cfg.Insecure = insecure

			p, err := Init(cfg, zaptest.NewLogger(t))
			require.NoError(t, err)
			shutdown(t, p)

			require.NotNil(t, p.tp)
			require.NotNil(t, p.mp)
			_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
			assert.True(t, ok)
			_, ok = otel.GetMeterProvider().(*sdkmetric.MeterProvider)
			assert.True(t, ok)
		})
	}
}

func TestExporterOptions(t *testing.T) {
	cfg := enabledConfig()
	cfg.Insecure = true
	assert.Len(t, traceOptions(cfg), 2)
	assert.Len(t, metricOptions(cfg), 2)

	cfg.Insecure = false
	assert.Len(t, traceOptions(cfg), 2)
	assert.Len(t, metricOptions(cfg), 2)
}

func TestNewResource(t *testing.T) {
	res, err := newResource(context.Background(), enabledConfig())
	require.NoError(t, err)

	attrs := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "agentcouncil-test", attrs["service.name"])
	assert.Equal(t, "dev", attrs["service.version"])
	assert.Equal(t, "ci", attrs["deployment.environment"])

	cfg := enabledConfig()
	cfg.Environment = ""
	res, err = newResource(context.Background(), cfg)
	require.NoError(t, err)
	_, ok := res.Set().Value("deployment.environment")
	assert.False(t, ok)
}

func TestSampler(t *testing.T) {
	traceID := trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 1}
	root := sdktrace.SamplingParameters{ParentContext: context.Background(), TraceID: traceID, Name: "meeting.run"}

	assert.Equal(t, sdktrace.Drop, Sampler(0).ShouldSample(root).Decision)
	assert.Equal(t, sdktrace.RecordAndSample, Sampler(1).ShouldSample(root).Decision)
	assert.Equal(t, sdktrace.RecordAndSample, Sampler(2).ShouldSample(root).Decision)

	// 子 span 跟随已采样的父 span，即使比例为 0
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
	})
	child := root
	child.ParentContext = trace.ContextWithSpanContext(context.Background(), parent)
	assert.Equal(t, sdktrace.RecordAndSample, Sampler(0).ShouldSample(child).Decision)
}

func TestProviders_ShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBuildInfo(t *testing.T) {
	version, _ := buildInfo()
	// 测试二进制的主模块版本是 (devel)
	assert.Equal(t, "dev", version)
}

func TestTracer_RecordsSpans(t *testing.T) {
	keepGlobals(t)

	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	_, span := Tracer("reasoning").Start(context.Background(), "rewoo.plan")
	RecordError(span, errors.New("gateway down"))
	RecordError(span, nil)
	RecordError(nil, errors.New("ignored"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "rewoo.plan", ended[0].Name())
	assert.Equal(t, "github.com/BaSui01/agentcouncil/reasoning", ended[0].InstrumentationScope().Name)
	assert.Len(t, ended[0].Events(), 1)
}
