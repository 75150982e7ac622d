package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "nfscore", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
}

func TestNoopHelpers(t *testing.T) {
	UseTracerProvider(nil)
	ctx, span := StartSpan(context.Background(), "test.operation")
	defer span.End()

	assert.False(t, span.SpanContext().IsValid())
	require.NotPanics(t, func() {
		RecordError(ctx, nil)
		RecordError(ctx, errors.New("boom"))
		SetAttributes(ctx, ClientAddr("192.168.1.1:911"))
	})
	traceID, spanID := IDs(ctx)
	assert.Empty(t, traceID)
	assert.Empty(t, spanID)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestAttributeHelpers(t *testing.T) {
	tests := []struct {
		name     string
		attr     attribute.KeyValue
		wantKey  string
		wantType attribute.Type
	}{
		{"ClientAddr", ClientAddr("10.0.0.1:700"), AttrClientAddr, attribute.STRING},
		{"Operation", Operation("SEQUENCE"), AttrOperation, attribute.STRING},
		{"Handle", Handle([]byte{0xde, 0xad}), AttrHandle, attribute.STRING},
		{"Status", Status(10052), AttrStatus, attribute.INT64},
		{"SessionID", SessionID("00ff"), AttrSessionID, attribute.STRING},
		{"SlotID", SlotID(3), AttrSlotID, attribute.INT64},
		{"SeqID", SeqID(9), AttrSeqID, attribute.INT64},
		{"Replay", Replay(true), AttrReplay, attribute.BOOL},
		{"AttrMode", AttrMode("decode"), AttrAttrMode, attribute.STRING},
		{"AttrCount", AttrCount(2), AttrAttrCount, attribute.INT64},
		{"AttrBytes", AttrBytes(12), AttrAttrBytes, attribute.INT64},
		{"Verdict", Verdict("differs"), AttrVerdict, attribute.STRING},
		{"UID", UID(1000), AttrUID, attribute.INT64},
		{"GID", GID(100), AttrGID, attribute.INT64},
		{"IdentName", IdentName("alice@example.com"), AttrIdentName, attribute.STRING},
		{"UpcallKind", UpcallKind("uid_to_name"), AttrUpcallKind, attribute.STRING},
		{"CacheHit", CacheHit(false), AttrCacheHit, attribute.BOOL},
		{"StoreName", StoreName("meta"), AttrStoreName, attribute.STRING},
		{"StoreType", StoreType("badger"), AttrStoreType, attribute.STRING},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKey, string(tt.attr.Key))
			assert.Equal(t, tt.wantType, tt.attr.Value.Type())
		})
	}

	assert.Equal(t, "dead", Handle([]byte{0xde, 0xad}).Value.AsString())
}

// withRecorder routes spans to an in-memory exporter until the test ends.
func withRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	UseTracerProvider(tp)
	t.Cleanup(func() {
		UseTracerProvider(nil)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestStartAttrSpan(t *testing.T) {
	exp := withRecorder(t)

	ctx, span := StartAttrSpan(context.Background(), SpanAttrDecode, "decode", AttrCount(2))
	require.NotNil(t, ctx)
	assert.True(t, IsEnabled())
	traceID, spanID := IDs(ctx)
	assert.Len(t, traceID, 32)
	assert.Len(t, spanID, 16)
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, SpanAttrDecode, spans[0].Name)
	assert.Contains(t, spans[0].Attributes, AttrMode("decode"))
	assert.Contains(t, spans[0].Attributes, AttrCount(2))
}

func TestStartUpcallSpanRecordsError(t *testing.T) {
	exp := withRecorder(t)

	ctx, span := StartUpcallSpan(context.Background(), "name_to_uid", IdentName("bob"))
	RecordError(ctx, errors.New("resolver unreachable"))
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, SpanIdmapUpcall, spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Contains(t, spans[0].Attributes, UpcallKind("name_to_uid"))
}

func TestStartMetadataSpan(t *testing.T) {
	exp := withRecorder(t)

	_, span := StartMetadataSpan(context.Background(), "getattr", StoreType("memory"))
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, SpanMetaGetAttr, spans[0].Name)
}

func TestParseProfileType(t *testing.T) {
	for _, name := range DefaultProfilingConfig().ProfileTypes {
		_, err := parseProfileType(name)
		assert.NoError(t, err, name)
	}
	_, err := parseProfileType("heap")
	assert.Error(t, err)
}

func TestInitProfilingDisabled(t *testing.T) {
	shutdown, err := InitProfiling(ProfilingConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown())
	assert.False(t, IsProfilingEnabled())
}
