package stream

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"runtime"
	"time"

	"github.com/goccy/go-reflect"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName    = "github.com/x-research-team/mediator/bus/stream"
	instrumentationVersion = "0.1.0"
	metricKeyPrefix        = "messaging."
)

// dispatchInfo описывает одну регистрацию для встроенной наблюдаемости:
// вид операции, типы сообщения и элемента, имя обработчика и количество
// пользовательских поведений в цепочке.
type dispatchInfo struct {
	operation     string
	messageType   string
	responseType  string
	handlerName   string
	behaviorCount int
}

// noopBehavior возвращает следующий обработчик без изменений.
func noopBehavior(next HandlerFunc) HandlerFunc {
	return next
}

// newLoggingBehavior создает поведение для логирования потоковой
// диспетчеризации. Начало и итог потребления логируются вокруг итерации,
// а не вокруг вызова обработчика: последовательность ленива, и работа
// начинается только с первого элемента.
// Если логгер не предоставлен (nil), возвращается no-op поведение.
func newLoggingBehavior(logger *slog.Logger, info dispatchInfo) Behavior {
	if logger == nil {
		return noopBehavior
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, q any) iter.Seq2[any, error] {
			return func(yield func(any, error) bool) {
				_, messageID := getMessageTypeAndID(q)
				logger.Info("открытие потока запроса",
					slog.String("operation", info.operation),
					slog.String("message_type", info.messageType),
					slog.String("message_id", messageID),
					slog.String("handler_name", info.handlerName),
					slog.Int("behavior_count", info.behaviorCount),
				)

				startTime := time.Now()
				var elements int
				var firstErr error

				for v, err := range next(ctx, q) {
					if err != nil && firstErr == nil {
						firstErr = err
					}
					if err == nil {
						elements++
					}
					if !yield(v, err) {
						break
					}
				}

				duration := time.Since(startTime)
				if firstErr != nil {
					logger.Error("ошибка потока запроса",
						slog.String("operation", info.operation),
						slog.String("message_type", info.messageType),
						slog.String("message_id", messageID),
						slog.String("handler_name", info.handlerName),
						slog.Int("elements", elements),
						slog.Any("error", firstErr),
						slog.Duration("duration", duration),
					)
					return
				}
				logger.Debug("поток запроса завершен",
					slog.String("operation", info.operation),
					slog.String("message_type", info.messageType),
					slog.String("response_type", info.responseType),
					slog.String("handler_name", info.handlerName),
					slog.Int("elements", elements),
					slog.Duration("duration", duration),
				)
			}
		}
	}
}

// newMetricsBehavior создает поведение для сбора метрик OpenTelemetry.
// Длительность измеряется по всему потреблению последовательности.
// Если провайдер метрик не предоставлен (nil), возвращается no-op поведение.
func newMetricsBehavior(provider metric.MeterProvider, info dispatchInfo) Behavior {
	if provider == nil {
		return noopBehavior
	}

	meter := provider.Meter(instrumentationName)

	dispatchCounter, err := meter.Int64Counter(
		metricKeyPrefix+"dispatch.count",
		metric.WithDescription("Количество открытых потоковых запросов"),
		metric.WithUnit("{streams}"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать счетчик dispatch.count: %v", err))
	}

	elementCounter, err := meter.Int64Counter(
		metricKeyPrefix+"stream.elements",
		metric.WithDescription("Количество выданных элементов потока"),
		metric.WithUnit("{elements}"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать счетчик stream.elements: %v", err))
	}

	processDurationHist, err := meter.Float64Histogram(
		metricKeyPrefix+"process.duration",
		metric.WithDescription("Длительность потребления потока"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать гистограмму process.duration: %v", err))
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, q any) iter.Seq2[any, error] {
			return func(yield func(any, error) bool) {
				startTime := time.Now()
				var elements int64
				status := "success"

				for v, err := range next(ctx, q) {
					if err != nil {
						status = "error"
					} else {
						elements++
					}
					if !yield(v, err) {
						break
					}
				}

				duration := float64(time.Since(startTime).Milliseconds())

				attrs := metric.WithAttributes(
					attribute.String("message.type", info.messageType),
					attribute.String("handler.name", info.handlerName),
					attribute.String("status", status),
				)

				dispatchCounter.Add(ctx, 1, attrs)
				elementCounter.Add(ctx, elements, attrs)
				processDurationHist.Record(ctx, duration, attrs)
			}
		}
	}
}

// newTracingBehavior создает поведение для распределенной трассировки
// OpenTelemetry. Спан охватывает все потребление последовательности.
// Если провайдер трассировки не предоставлен (nil), возвращается no-op
// поведение.
func newTracingBehavior(tp trace.TracerProvider, p propagation.TextMapPropagator, info dispatchInfo) Behavior {
	if tp == nil {
		return noopBehavior
	}

	if p == nil {
		p = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	}

	tracer := tp.Tracer(
		instrumentationName,
		trace.WithInstrumentationVersion(instrumentationVersion),
	)

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, q any) iter.Seq2[any, error] {
			return func(yield func(any, error) bool) {
				if md, ok := q.(Metadatable); ok {
					ctx = p.Extract(ctx, propagation.MapCarrier(md.Metadata()))
				}

				spanName := fmt.Sprintf("%s stream", info.messageType)

				ctx, span := tracer.Start(ctx, spanName,
					trace.WithSpanKind(trace.SpanKindInternal),
					trace.WithAttributes(
						attribute.String("messaging.operation", info.operation),
						attribute.String("messaging.message.type", info.messageType),
						attribute.String("messaging.handler.name", info.handlerName),
					),
				)

				var elements int64
				for v, err := range next(ctx, q) {
					if err != nil {
						span.RecordError(err)
					} else {
						elements++
					}
					if !yield(v, err) {
						break
					}
				}

				span.SetAttributes(attribute.Int64("messaging.stream.elements", elements))
				span.End()
			}
		}
	}
}

// getMessageTypeAndID извлекает тип и ID сообщения с помощью рефлексии.
func getMessageTypeAndID(msg any) (string, string) {
	val := reflect.ValueOf(msg)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	msgType := val.Type().Name()
	msgID := "unknown"

	if val.Kind() == reflect.Struct {
		if idField := val.FieldByName("ID"); idField.IsValid() {
			msgID = fmt.Sprintf("%v", idField.Interface())
		}
	}

	return msgType, msgID
}

// getHandlerName извлекает имя обработчика.
func getHandlerName(handler any) string {
	v := reflect.ValueOf(handler)
	if v.Kind() == reflect.Func {
		if pc := v.Pointer(); pc != 0 {
			if f := runtime.FuncForPC(pc); f != nil {
				return f.Name()
			}
		}
	}
	return reflect.TypeOf(handler).String()
}
