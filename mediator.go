// Package mediator собирает четыре шины сообщений (запросы, команды,
// потоковые запросы, уведомления) в единый фасад с общей конфигурацией
// наблюдаемости и проверкой графа обработчиков при запуске.
//
// Типичный жизненный цикл: создать медиатор, зарегистрировать обработчики
// и подписки, вызвать Validate, затем обрабатывать трафик и завершить
// работу через Shutdown.
package mediator

import (
	"context"
	"iter"

	"github.com/x-research-team/mediator/bus/command"
	"github.com/x-research-team/mediator/bus/notification"
	"github.com/x-research-team/mediator/bus/query"
	"github.com/x-research-team/mediator/bus/stream"
	"github.com/x-research-team/mediator/bus/validator"
)

// Mediator объединяет шины всех видов сообщений. Каждая шина доступна и
// напрямую для тонкой настройки, но обычный код пользуется обобщенными
// функциями пакета.
type Mediator struct {
	queries       *query.Bus
	commands      *command.Bus
	streams       *stream.Bus
	notifications *notification.Bus
	cfg           *config
}

// New создает медиатор. Общие опции (логгер, провайдеры OpenTelemetry,
// время жизни обработчиков) передаются всем шинам; опции отдельных шин
// добавляются через WithQueryOptions и родственные.
func New(opts ...Option) *Mediator {
	cfg := newConfig(opts...)

	return &Mediator{
		queries:       query.NewBus(cfg.queryOptions()...),
		commands:      command.NewBus(cfg.commandOptions()...),
		streams:       stream.NewBus(cfg.streamOptions()...),
		notifications: notification.NewBus(cfg.notificationOptions()...),
		cfg:           cfg,
	}
}

// Queries возвращает шину запросов.
func (m *Mediator) Queries() *query.Bus { return m.queries }

// Commands возвращает шину команд.
func (m *Mediator) Commands() *command.Bus { return m.commands }

// Streams возвращает шину потоковых запросов.
func (m *Mediator) Streams() *stream.Bus { return m.streams }

// Notifications возвращает шину уведомлений.
func (m *Mediator) Notifications() *notification.Bus { return m.notifications }

// RegisterQuery регистрирует обработчик запроса.
func RegisterQuery[Q query.Query[R], R any](m *Mediator, handler query.QueryHandler[Q, R]) error {
	return query.Register(m.queries, handler)
}

// RegisterQueryFactory регистрирует фабрику обработчиков запроса.
func RegisterQueryFactory[Q query.Query[R], R any](m *Mediator, factory query.Factory[Q, R]) error {
	return query.RegisterFactory(m.queries, factory)
}

// RegisterCommand регистрирует обработчик команды с результатом.
func RegisterCommand[C command.Command[R], R any](m *Mediator, handler command.CommandHandler[C, R]) error {
	return command.Register(m.commands, handler)
}

// RegisterVoidCommand регистрирует обработчик пустой команды.
func RegisterVoidCommand[C command.Command[command.Unit]](m *Mediator, handler command.VoidHandler[C]) error {
	return command.RegisterVoid(m.commands, handler)
}

// RegisterStream регистрирует обработчик потокового запроса.
func RegisterStream[Q stream.Query[R], R any](m *Mediator, handler stream.Handler[Q, R]) error {
	return stream.Register(m.streams, handler)
}

// Subscribe подписывает обработчик на уведомления по ключу N.
func Subscribe[N notification.Notification](m *Mediator, handler notification.Handler[N], opts ...notification.SubscribeOption[N]) (func(), error) {
	return notification.Subscribe(m.notifications, handler, opts...)
}

// DeclareQuery объявляет тип запроса частью вселенной сообщений.
func DeclareQuery[Q query.Query[R], R any](m *Mediator) {
	query.Declare[Q, R](m.queries)
}

// DeclareCommand объявляет тип команды частью вселенной сообщений.
func DeclareCommand[C command.Command[R], R any](m *Mediator) {
	command.Declare[C, R](m.commands)
}

// DeclareStream объявляет тип потокового запроса частью вселенной сообщений.
func DeclareStream[Q stream.Query[R], R any](m *Mediator) {
	stream.Declare[Q, R](m.streams)
}

// Send выполняет запрос и возвращает результат типа R.
func Send[R any](ctx context.Context, m *Mediator, q query.Query[R]) (R, error) {
	return query.Send[R](ctx, m.queries, q)
}

// SendCommand выполняет команду и возвращает результат типа R.
func SendCommand[R any](ctx context.Context, m *Mediator, cmd command.Command[R]) (R, error) {
	return command.Send[R](ctx, m.commands, cmd)
}

// Exec выполняет пустую команду.
func Exec[C command.Command[command.Unit]](ctx context.Context, m *Mediator, cmd C) error {
	return command.Exec(ctx, m.commands, cmd)
}

// Stream открывает поток результатов для потокового запроса.
func Stream[R any](ctx context.Context, m *Mediator, q stream.Query[R]) iter.Seq2[R, error] {
	return stream.Stream[R](ctx, m.streams, q)
}

// Publish доставляет уведомление всем разрешенным подписчикам.
func (m *Mediator) Publish(ctx context.Context, n notification.Notification, opts ...notification.PublishOption) error {
	return m.notifications.Publish(ctx, n, opts...)
}

// Validate проверяет граф обработчиков всех четырех шин и применяет
// настроенный режим реакции. Вызывается после регистрации обработчиков,
// до начала обработки трафика.
func (m *Mediator) Validate() error {
	return validator.Run(m.cfg.validationMode, m.cfg.logger, m.tables()...)
}

// Findings возвращает находки проверки без применения режима реакции.
func (m *Mediator) Findings() []validator.Finding {
	return validator.Validate(m.tables()...)
}

// Shutdown корректно завершает работу медиатора, дожидаясь асинхронных
// задач шины уведомлений.
func (m *Mediator) Shutdown(ctx context.Context) error {
	return m.notifications.Shutdown(ctx)
}

// tables собирает таблицы регистраций всех шин для валидатора.
func (m *Mediator) tables() []validator.Table {
	return []validator.Table{
		{Kind: validator.KindQuery, Entries: queryEntries(m.queries.Registrations())},
		{Kind: validator.KindCommand, Entries: commandEntries(m.commands.Registrations())},
		{Kind: validator.KindStream, Entries: streamEntries(m.streams.Registrations())},
		{Kind: validator.KindNotification, Entries: notificationEntries(m.notifications.Registrations())},
	}
}

func queryEntries(regs []query.RegistrationInfo) []validator.Entry {
	out := make([]validator.Entry, 0, len(regs))
	for _, r := range regs {
		out = append(out, validator.Entry{MessageType: r.MessageType, Handlers: r.Handlers, ResponseType: r.ResponseType})
	}
	return out
}

func commandEntries(regs []command.RegistrationInfo) []validator.Entry {
	out := make([]validator.Entry, 0, len(regs))
	for _, r := range regs {
		out = append(out, validator.Entry{MessageType: r.MessageType, Handlers: r.Handlers, ResponseType: r.ResponseType})
	}
	return out
}

func streamEntries(regs []stream.RegistrationInfo) []validator.Entry {
	out := make([]validator.Entry, 0, len(regs))
	for _, r := range regs {
		out = append(out, validator.Entry{MessageType: r.MessageType, Handlers: r.Handlers, ResponseType: r.ResponseType})
	}
	return out
}

func notificationEntries(regs []notification.RegistrationInfo) []validator.Entry {
	out := make([]validator.Entry, 0, len(regs))
	for _, r := range regs {
		out = append(out, validator.Entry{MessageType: r.MessageType, Handlers: r.Handlers})
	}
	return out
}
