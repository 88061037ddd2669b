package pubsub

import (
	"context"
	"errors"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
	"github.com/JakeFAU/searchcrawler/internal/sink"
	"github.com/JakeFAU/searchcrawler/internal/telemetry"
)

func TestAppendPublishesRecord(t *testing.T) {
	t.Parallel()

	var got *pubsub.Message
	s := newSink(func(_ context.Context, msg *pubsub.Message) (string, error) {
		got = msg
		return "msg-1", nil
	}, nil)

	ctx := sink.WithRunID(context.Background(), "run-42")
	err := s.Append(ctx, crawler.ExtractedItem{
		URL:   "https://github.com/user1/repo1",
		Extra: map[string]any{"owner": "acme"},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.JSONEq(t, `{"url":"https://github.com/user1/repo1","extra":{"owner":"acme"}}`, string(got.Data))
	require.Equal(t, "run-42", got.Attributes[AttrRunID])
}

func TestAppendInjectsTraceContext(t *testing.T) {
	tp, err := telemetry.InitTracerProvider(context.Background(), telemetry.ServiceName)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var got *pubsub.Message
	s := newSink(func(_ context.Context, msg *pubsub.Message) (string, error) {
		got = msg
		return "msg-3", nil
	}, nil)

	ctx, span := otel.Tracer("test").Start(sink.WithRunID(context.Background(), "r"), "dispatch item")
	defer span.End()
	require.NoError(t, s.Append(ctx, crawler.ExtractedItem{URL: "https://example.test"}))

	require.Equal(t, "r", got.Attributes[AttrRunID])
	require.Contains(t, got.Attributes["traceparent"], span.SpanContext().TraceID().String())
}

func TestAppendPartialRecordHasNullExtra(t *testing.T) {
	t.Parallel()

	var got *pubsub.Message
	s := newSink(func(_ context.Context, msg *pubsub.Message) (string, error) {
		got = msg
		return "msg-2", nil
	}, nil)

	require.NoError(t, s.Append(context.Background(), crawler.ExtractedItem{URL: "https://example.test"}))
	require.JSONEq(t, `{"url":"https://example.test","extra":null}`, string(got.Data))
	require.NotContains(t, got.Attributes, AttrRunID)
}

func TestAppendWrapsPublishError(t *testing.T) {
	t.Parallel()

	s := newSink(func(context.Context, *pubsub.Message) (string, error) {
		return "", errors.New("deadline exceeded")
	}, nil)
	err := s.Append(context.Background(), crawler.ExtractedItem{URL: "https://example.test"})
	require.EqualError(t, err, "publish record: deadline exceeded")
}

func TestMessageCarrier(t *testing.T) {
	t.Parallel()

	carrier := &messageCarrier{attrs: map[string]string{}}
	var _ propagation.TextMapCarrier = carrier
	carrier.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", carrier.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, carrier.Keys())
	require.NotNil(t, otel.GetTextMapPropagator())
}

func TestCloseAndConfigValidation(t *testing.T) {
	t.Parallel()

	closed := false
	s := newSink(nil, func() error { closed = true; return nil })
	require.NoError(t, s.Close(context.Background()))
	require.True(t, closed)

	require.NoError(t, newSink(nil, nil).Close(context.Background()))

	_, err := New(context.Background(), Config{ProjectID: "p"})
	require.Error(t, err)
}
