package command

import (
	"log/slog"

	"github.com/goccy/go-reflect"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// config содержит неэкспортируемую конфигурацию для шины команд.
type config struct {
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator
	behaviors      []behaviorRegistration
	lifetime       Lifetime
}

// Option определяет тип для функциональных опций, которые изменяют конфигурацию шины.
type Option func(*config)

// WithLogger возвращает опцию, которая устанавливает логгер для шины.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithTracerProvider возвращает опцию, которая устанавливает провайдер трассировки.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = provider
	}
}

// WithMeterProvider возвращает опцию, которая устанавливает провайдер метрик.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *config) {
		c.meterProvider = provider
	}
}

// WithPropagator возвращает опцию, которая устанавливает механизм распространения контекста.
func WithPropagator(propagator propagation.TextMapPropagator) Option {
	return func(c *config) {
		c.propagator = propagator
	}
}

// WithBehavior возвращает опцию, которая добавляет одно или несколько открытых
// поведений в цепочку обработки. Открытые поведения применяются к командам
// всех типов. Поведения выполняются в порядке их добавления: первое
// добавленное — внешнее.
func WithBehavior(behaviors ...Behavior) Option {
	return func(c *config) {
		for _, b := range behaviors {
			c.behaviors = append(c.behaviors, behaviorRegistration{behavior: b})
		}
	}
}

// WithBehaviorFor возвращает опцию, которая добавляет поведение, применяемое
// только к командам типа C. Общий порядок цепочки определяется порядком
// добавления опций, независимо от того, открытое поведение или привязанное.
func WithBehaviorFor[C Command[R], R any](behavior Behavior) Option {
	cType := reflect.TypeOf((*C)(nil)).Elem()
	return func(c *config) {
		c.behaviors = append(c.behaviors, behaviorRegistration{commandType: cType, behavior: behavior})
	}
}

// WithHandlerLifetime возвращает опцию, которая устанавливает время жизни
// обработчиков, создаваемых через RegisterFactory. Обработчики,
// зарегистрированные напрямую через Register, всегда ведут себя как Singleton.
func WithHandlerLifetime(lifetime Lifetime) Option {
	return func(c *config) {
		c.lifetime = lifetime
	}
}
