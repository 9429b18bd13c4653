package notification

import (
	"log/slog"

	"github.com/goccy/go-reflect"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// config содержит неэкспортируемую конфигурацию для шины уведомлений.
type config struct {
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator
	behaviors      []behaviorRegistration
	strategy       Strategy
	workerMin      int
	workerMax      int
	queueSize      int
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
// поведений. Открытые поведения оборачивают каждую пару (обработчик,
// уведомление) для уведомлений всех типов. Поведения выполняются в порядке
// их добавления: первое добавленное — внешнее.
func WithBehavior(behaviors ...Behavior) Option {
	return func(c *config) {
		for _, b := range behaviors {
			c.behaviors = append(c.behaviors, behaviorRegistration{behavior: b})
		}
	}
}

// WithBehaviorFor возвращает опцию, которая добавляет поведение, применяемое
// только к уведомлениям, конкретный тип которых равен N. Общий порядок
// цепочки определяется порядком добавления опций.
func WithBehaviorFor[N Notification](behavior Behavior) Option {
	nType := reflect.TypeOf((*N)(nil)).Elem()
	return func(c *config) {
		c.behaviors = append(c.behaviors, behaviorRegistration{notificationType: nType, behavior: behavior})
	}
}

// WithPublishStrategy возвращает опцию, которая устанавливает стратегию
// доставки по умолчанию. Отдельный вызов Publish может переопределить ее
// через WithStrategy, не изменяя конфигурацию шины.
func WithPublishStrategy(strategy Strategy) Option {
	return func(c *config) {
		c.strategy = strategy
	}
}

// WithWorkerPoolConfig настраивает параметры пула горутин для стратегии
// ParallelNoWait.
func WithWorkerPoolConfig(minWorkers, maxWorkers, queueSize int) Option {
	return func(c *config) {
		c.workerMin = minWorkers
		c.workerMax = maxWorkers
		c.queueSize = queueSize
	}
}

// PublishOption определяет тип для функциональных опций одного вызова Publish.
type PublishOption func(*publishOptions)

// publishOptions — параметры одного вызова Publish.
type publishOptions struct {
	strategy    Strategy
	strategySet bool
}

// WithStrategy переопределяет стратегию доставки для одного вызова Publish.
func WithStrategy(strategy Strategy) PublishOption {
	return func(o *publishOptions) {
		o.strategy = strategy
		o.strategySet = true
	}
}

// SubscribeOption определяет тип для функциональных опций одной подписки.
type SubscribeOption[N Notification] func(*subscriptionOptions[N])

// subscriptionOptions — параметры одной подписки.
type subscriptionOptions[N Notification] struct {
	errorHandler ErrorHandler[N]
	name         string
}

// WithErrorHandler задает пользовательский обработчик ошибок подписки для
// стратегии ParallelNoWait.
func WithErrorHandler[N Notification](handler ErrorHandler[N]) SubscribeOption[N] {
	return func(o *subscriptionOptions[N]) {
		o.errorHandler = handler
	}
}

// WithSubscriberName задает человекочитаемое имя подписчика для логов и
// трассировки. По умолчанию используется имя функции-обработчика.
func WithSubscriberName[N Notification](name string) SubscribeOption[N] {
	return func(o *subscriptionOptions[N]) {
		o.name = name
	}
}
