package mediator

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/x-research-team/mediator/bus/command"
	"github.com/x-research-team/mediator/bus/notification"
	"github.com/x-research-team/mediator/bus/query"
	"github.com/x-research-team/mediator/bus/stream"
	"github.com/x-research-team/mediator/bus/validator"
)

// Lifetime определяет время жизни обработчиков, создаваемых фабриками,
// для всех шин медиатора.
type Lifetime int

const (
	// Singleton — фабрика вызывается один раз, экземпляр переиспользуется.
	Singleton Lifetime = iota
	// Transient — фабрика вызывается при каждой диспетчеризации.
	Transient
)

// Strategy — стратегия доставки уведомлений, реэкспорт для удобства
// вызывающего кода.
type Strategy = notification.Strategy

const (
	StopOnFirstError = notification.StopOnFirstError
	ContinueOnError  = notification.ContinueOnError
	ParallelWhenAll  = notification.ParallelWhenAll
	ParallelNoWait   = notification.ParallelNoWait
)

// ValidationMode — режим реакции на находки проверки, реэкспорт для
// удобства вызывающего кода.
type ValidationMode = validator.Mode

const (
	ValidationNone     = validator.ModeNone
	ValidationWarn     = validator.ModeWarn
	ValidationFailFast = validator.ModeFailFast
)

// config содержит неэкспортируемую конфигурацию медиатора.
type config struct {
	logger           *slog.Logger
	tracerProvider   trace.TracerProvider
	meterProvider    metric.MeterProvider
	propagator       propagation.TextMapPropagator
	lifetime         Lifetime
	validationMode   ValidationMode
	queryOpts        []query.Option
	commandOpts      []command.Option
	streamOpts       []stream.Option
	notificationOpts []notification.Option
}

// Option определяет тип для функциональных опций, которые изменяют конфигурацию медиатора.
type Option func(*config)

// newConfig применяет опции к конфигурации по умолчанию.
func newConfig(opts ...Option) *config {
	cfg := &config{
		validationMode: ValidationFailFast,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithLogger возвращает опцию, которая устанавливает общий логгер для всех шин.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithTracerProvider возвращает опцию, которая устанавливает общий провайдер
// трассировки для всех шин.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = provider
	}
}

// WithMeterProvider возвращает опцию, которая устанавливает общий провайдер
// метрик для всех шин.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *config) {
		c.meterProvider = provider
	}
}

// WithPropagator возвращает опцию, которая устанавливает общий механизм
// распространения контекста для всех шин.
func WithPropagator(propagator propagation.TextMapPropagator) Option {
	return func(c *config) {
		c.propagator = propagator
	}
}

// WithHandlerLifetime возвращает опцию, которая устанавливает время жизни
// обработчиков, создаваемых фабриками, для шин запросов, команд и потоков.
func WithHandlerLifetime(lifetime Lifetime) Option {
	return func(c *config) {
		c.lifetime = lifetime
	}
}

// WithValidationMode возвращает опцию, которая устанавливает режим реакции
// на находки Validate. По умолчанию используется ValidationFailFast.
func WithValidationMode(mode ValidationMode) Option {
	return func(c *config) {
		c.validationMode = mode
	}
}

// WithPublishStrategy возвращает опцию, которая устанавливает стратегию
// доставки уведомлений по умолчанию.
func WithPublishStrategy(strategy Strategy) Option {
	return func(c *config) {
		c.notificationOpts = append(c.notificationOpts, notification.WithPublishStrategy(strategy))
	}
}

// WithWorkerPoolConfig настраивает пул горутин шины уведомлений для
// стратегии ParallelNoWait.
func WithWorkerPoolConfig(minWorkers, maxWorkers, queueSize int) Option {
	return func(c *config) {
		c.notificationOpts = append(c.notificationOpts, notification.WithWorkerPoolConfig(minWorkers, maxWorkers, queueSize))
	}
}

// WithQueryOptions добавляет опции, передаваемые только шине запросов,
// например query.WithBehavior.
func WithQueryOptions(opts ...query.Option) Option {
	return func(c *config) {
		c.queryOpts = append(c.queryOpts, opts...)
	}
}

// WithCommandOptions добавляет опции, передаваемые только шине команд.
func WithCommandOptions(opts ...command.Option) Option {
	return func(c *config) {
		c.commandOpts = append(c.commandOpts, opts...)
	}
}

// WithStreamOptions добавляет опции, передаваемые только шине потоковых запросов.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(c *config) {
		c.streamOpts = append(c.streamOpts, opts...)
	}
}

// WithNotificationOptions добавляет опции, передаваемые только шине уведомлений.
func WithNotificationOptions(opts ...notification.Option) Option {
	return func(c *config) {
		c.notificationOpts = append(c.notificationOpts, opts...)
	}
}

// queryOptions собирает полный набор опций шины запросов.
func (c *config) queryOptions() []query.Option {
	opts := []query.Option{
		query.WithLogger(c.logger),
		query.WithTracerProvider(c.tracerProvider),
		query.WithMeterProvider(c.meterProvider),
		query.WithPropagator(c.propagator),
		query.WithHandlerLifetime(query.Lifetime(c.lifetime)),
	}
	return append(opts, c.queryOpts...)
}

// commandOptions собирает полный набор опций шины команд.
func (c *config) commandOptions() []command.Option {
	opts := []command.Option{
		command.WithLogger(c.logger),
		command.WithTracerProvider(c.tracerProvider),
		command.WithMeterProvider(c.meterProvider),
		command.WithPropagator(c.propagator),
		command.WithHandlerLifetime(command.Lifetime(c.lifetime)),
	}
	return append(opts, c.commandOpts...)
}

// streamOptions собирает полный набор опций шины потоковых запросов.
func (c *config) streamOptions() []stream.Option {
	opts := []stream.Option{
		stream.WithLogger(c.logger),
		stream.WithTracerProvider(c.tracerProvider),
		stream.WithMeterProvider(c.meterProvider),
		stream.WithPropagator(c.propagator),
		stream.WithHandlerLifetime(stream.Lifetime(c.lifetime)),
	}
	return append(opts, c.streamOpts...)
}

// notificationOptions собирает полный набор опций шины уведомлений.
func (c *config) notificationOptions() []notification.Option {
	opts := []notification.Option{
		notification.WithLogger(c.logger),
		notification.WithTracerProvider(c.tracerProvider),
		notification.WithMeterProvider(c.meterProvider),
		notification.WithPropagator(c.propagator),
	}
	return append(opts, c.notificationOpts...)
}
