package infra

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"payment-session-client/config"
)

// ComponentAttr はスパンを発行したバイナリ（payctl / sandbox）を表す属性キー。
const ComponentAttr = attribute.Key("payment.component")

// InitTracer はトレーサープロバイダーを初期化する。
// OTEL_ENABLED=false の場合は nil を返す（トレーシング無効）。
func InitTracer(ctx context.Context, cfg *config.Config, component, version string) (*sdktrace.TracerProvider, error) {
	if !cfg.OtelEnabled {
		return nil, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
	)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg, component, version)
	if err != nil {
		return nil, err
	}

	// サンプリング率を設定
	sampler := sdktrace.TraceIDRatioBased(cfg.OtelSamplingRate)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)

	otel.SetTracerProvider(tp)

	// W3C TraceContext伝搬を設定
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// newResource はサービス名・バージョン・コンポーネントを持つリソースを生成する。
// ピアURLはクライアント側のみ付与する。
func newResource(ctx context.Context, cfg *config.Config, component, version string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.OtelServiceName),
		semconv.ServiceVersion(version),
		ComponentAttr.String(component),
	}
	if component == "payctl" && cfg.PeerURL != "" {
		attrs = append(attrs, attribute.String("payment.peer_url", cfg.PeerURL))
	}
	if cfg.GoogleCloudProject != "" {
		attrs = append(attrs, semconv.CloudAccountID(cfg.GoogleCloudProject))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

// Tracer はこのモジュールのスパンを発行するトレーサーを返す。
// トレーサープロバイダー未設定時はno-opになる。
func Tracer() trace.Tracer {
	return otel.Tracer("payment-session-client")
}
