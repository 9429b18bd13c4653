package notification

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-reflect"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Bus представляет собой потокобезопасную шину уведомлений. Она хранит
// подписки по ключам (конкретный тип или интерфейс), разрешает полный
// набор получателей для конкретного типа уведомления и доставляет
// уведомление согласно выбранной стратегии.
type Bus struct {
	mu       sync.RWMutex
	subs     map[reflect.Type][]*subscription
	keyOrder []reflect.Type
	resolved sync.Map // reflect.Type -> []*delivery, кеш разрешенных получателей
	cfg      *config
	pool     *workerPool
}

// subscription представляет собой одну подписку: ключ, по которому она
// зарегистрирована, стертый обработчик и опциональный обработчик ошибок.
type subscription struct {
	// id — уникальный идентификатор подписки (UUID), используется для
	// безопасной отписки.
	id           string
	key          reflect.Type
	name         string
	invoke       HandlerFunc
	errorHandler func(err error, n any)
}

// delivery — одна пара (обработчик, конкретный тип уведомления) с уже
// составленной цепочкой поведений.
type delivery struct {
	sub   *subscription
	chain HandlerFunc
}

// behaviorRegistration связывает поведение с конкретным типом уведомления.
// Нулевой notificationType означает открытое поведение.
type behaviorRegistration struct {
	notificationType reflect.Type
	behavior         Behavior
}

// RegistrationInfo — снимок подписок по одному ключу.
// Используется валидатором запуска для статического анализа.
type RegistrationInfo struct {
	MessageType reflect.Type
	Handlers    int
}

// NewBus создает новый, готовый к использованию экземпляр шины уведомлений.
// Пул воркеров для стратегии ParallelNoWait запускается сразу.
func NewBus(opts ...Option) *Bus {
	cfg := &config{
		strategy:  StopOnFirstError,
		workerMin: 1,
		workerMax: 10,
		queueSize: 100,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	pool := newWorkerPool(cfg.workerMin, cfg.workerMax, cfg.queueSize, cfg.logger)
	pool.start()

	return &Bus{
		subs: make(map[reflect.Type][]*subscription),
		cfg:  cfg,
		pool: pool,
	}
}

// Subscribe подписывает обработчик на уведомления по ключу N. Ключом может
// быть конкретный тип или интерфейс: подписка на интерфейс получает все
// уведомления, конкретный тип которых его реализует. Интерфейсный ключ
// обязан иметь хотя бы один метод: пустые интерфейсы исключены из
// разрешения получателей, и подписка на них никогда не получила бы
// уведомлений. Возвращает функцию отписки.
func Subscribe[N Notification](b *Bus, handler Handler[N], opts ...SubscribeOption[N]) (unsubscribe func(), err error) {
	if handler == nil {
		return nil, fmt.Errorf("обработчик для уведомления '%s' не должен быть nil", typeOf[N]())
	}

	key := typeOf[N]()
	if key.Kind() == reflect.Interface && key.NumMethod() == 0 {
		return nil, fmt.Errorf("ключ подписки '%s' является пустым интерфейсом: объявите маркерный интерфейс хотя бы с одним методом", key)
	}

	subOpts := subscriptionOptions[N]{}
	for _, opt := range opts {
		opt(&subOpts)
	}

	name := subOpts.name
	if name == "" {
		name = getHandlerName(handler)
	}

	sub := &subscription{
		id:     uuid.NewString(),
		key:    key,
		name:   name,
		invoke: eraseHandler(handler),
	}
	if subOpts.errorHandler != nil {
		sub.errorHandler = eraseErrorHandler(subOpts.errorHandler)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.key]; !ok {
		b.keyOrder = append(b.keyOrder, sub.key)
	}
	b.subs[sub.key] = append(b.subs[sub.key], sub)
	b.resolved.Clear()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subs[sub.key]
		for i, s := range subs {
			if s.id == sub.id {
				b.subs[sub.key] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[sub.key]) == 0 {
			delete(b.subs, sub.key)
			b.keyOrder = slices.DeleteFunc(b.keyOrder, func(t reflect.Type) bool {
				return t == sub.key
			})
		}
		b.resolved.Clear()
	}, nil
}

// Publish доставляет уведомление всем разрешенным подписчикам согласно
// стратегии шины. Отдельный вызов может переопределить стратегию через
// WithStrategy, конфигурация шины при этом не изменяется. Уведомление без
// подписчиков не является ошибкой.
func (b *Bus) Publish(ctx context.Context, n Notification, opts ...PublishOption) error {
	if n == nil {
		return ErrNilNotification
	}

	po := publishOptions{}
	for _, opt := range opts {
		opt(&po)
	}

	strategy := b.cfg.strategy
	if po.strategySet {
		strategy = po.strategy
	}

	nType := reflect.TypeOf(n)
	deliveries := b.resolve(nType)

	if b.cfg.logger != nil {
		b.cfg.logger.Info("публикация уведомления",
			slog.String("message_type", nType.String()),
			slog.String("strategy", strategy.String()),
			slog.Int("subscriber_count", len(deliveries)),
		)
	}

	if len(deliveries) == 0 {
		return nil
	}

	switch strategy {
	case ContinueOnError:
		return b.publishContinue(ctx, n, nType, deliveries)
	case ParallelWhenAll:
		return b.publishWhenAll(ctx, n, nType, deliveries)
	case ParallelNoWait:
		return b.publishNoWait(ctx, n, nType, deliveries)
	default:
		return b.publishStopOnFirst(ctx, n, deliveries)
	}
}

// publishStopOnFirst доставляет последовательно и возвращает первую ошибку
// без изменений, останавливая дальнейшую доставку.
func (b *Bus) publishStopOnFirst(ctx context.Context, n any, deliveries []*delivery) error {
	for _, d := range deliveries {
		if err := d.chain(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// publishContinue доставляет последовательно всем подписчикам и собирает
// ошибки в порядке возникновения.
func (b *Bus) publishContinue(ctx context.Context, n any, nType reflect.Type, deliveries []*delivery) error {
	var errs []error
	for _, d := range deliveries {
		if err := d.chain(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &AggregateError{NotificationType: nType.String(), Errs: errs}
	}
	return nil
}

// publishWhenAll доставляет параллельно и дожидается всех подписчиков.
// Ошибки собираются в порядке разрешения подписчиков, а не завершения.
func (b *Bus) publishWhenAll(ctx context.Context, n any, nType reflect.Type, deliveries []*delivery) error {
	results := make([]error, len(deliveries))

	g := new(errgroup.Group)
	for i, d := range deliveries {
		g.Go(func() error {
			results[i] = d.chain(ctx, n)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &AggregateError{NotificationType: nType.String(), Errs: errs}
	}
	return nil
}

// publishNoWait отправляет задачи в пул воркеров и возвращается сразу.
// Ошибки подписчиков поступают в их ErrorHandler либо в логгер шины.
func (b *Bus) publishNoWait(ctx context.Context, n any, nType reflect.Type, deliveries []*delivery) error {
	for _, d := range deliveries {
		if ok := b.pool.submit(task{ctx: ctx, notification: n, delivery: d}); !ok && b.cfg.logger != nil {
			b.cfg.logger.Warn("не удалось отправить задачу в пул воркеров, уведомление отброшено",
				slog.String("message_type", nType.String()),
				slog.String("subscriber", d.sub.name),
			)
		}
	}
	return nil
}

// Shutdown останавливает пул воркеров, дожидаясь завершения уже принятых
// задач. После возврата Shutdown стратегия ParallelNoWait перестает
// принимать новые задачи.
func (b *Bus) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.pool.stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Registrations возвращает снимок подписок, упорядоченный по имени ключа
// для детерминированного вывода.
func (b *Bus) Registrations() []RegistrationInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]RegistrationInfo, 0, len(b.subs))
	for key, subs := range b.subs {
		out = append(out, RegistrationInfo{
			MessageType: key,
			Handlers:    len(subs),
		})
	}

	slices.SortFunc(out, func(a, b RegistrationInfo) int {
		return strings.Compare(a.MessageType.String(), b.MessageType.String())
	})

	return out
}

// resolve вычисляет полный набор получателей для конкретного типа
// уведомления: сначала подписки на сам тип, затем подписки на каждый
// зарегистрированный интерфейс, который тип реализует, в порядке первой
// подписки. Результат кешируется до следующей подписки или отписки.
func (b *Bus) resolve(nType reflect.Type) []*delivery {
	if cached, ok := b.resolved.Load(nType); ok {
		return cached.([]*delivery)
	}

	b.mu.RLock()
	var out []*delivery
	for _, sub := range b.subs[nType] {
		out = append(out, &delivery{sub: sub, chain: b.compose(sub, nType)})
	}
	for _, key := range b.keyOrder {
		if key == nType || !implementsKey(nType, key) {
			continue
		}
		for _, sub := range b.subs[key] {
			out = append(out, &delivery{sub: sub, chain: b.compose(sub, nType)})
		}
	}
	b.mu.RUnlock()

	actual, _ := b.resolved.LoadOrStore(nType, out)
	return actual.([]*delivery)
}

// implementsKey сообщает, адресует ли интерфейсный ключ данный конкретный
// тип. Пустые интерфейсы исключаются: корневой маркер уведомления слишком
// широк, чтобы служить ключом доставки.
func implementsKey(nType, key reflect.Type) bool {
	if key.Kind() != reflect.Interface {
		return false
	}
	if key.NumMethod() == 0 {
		return false
	}
	return nType.Implements(key)
}

// compose строит цепочку вызова для одной пары (обработчик, тип
// уведомления): вызов обработчика, применимые поведения (справа налево)
// и встроенную наблюдаемость поверх них.
func (b *Bus) compose(sub *subscription, nType reflect.Type) HandlerFunc {
	var applicable []Behavior
	for _, br := range b.cfg.behaviors {
		if br.notificationType == nil || br.notificationType == nType {
			applicable = append(applicable, br.behavior)
		}
	}

	next := sub.invoke
	for i := len(applicable) - 1; i >= 0; i-- {
		next = applicable[i](next)
	}

	info := dispatchInfo{
		operation:     "notification",
		messageType:   nType.String(),
		handlerName:   sub.name,
		behaviorCount: len(applicable),
	}

	builtin := []Behavior{
		newLoggingBehavior(b.cfg.logger, info),
		newMetricsBehavior(b.cfg.meterProvider, info),
		newTracingBehavior(b.cfg.tracerProvider, b.cfg.propagator, info),
	}
	for i := len(builtin) - 1; i >= 0; i-- {
		next = builtin[i](next)
	}

	return next
}

// eraseHandler оборачивает типизированный обработчик в стертую форму.
func eraseHandler[N Notification](h Handler[N]) HandlerFunc {
	return func(ctx context.Context, n any) error {
		nn, ok := n.(N)
		if !ok {
			return fmt.Errorf("уведомление имеет тип %T, а подписчик ожидает %s", n, typeOf[N]())
		}
		return h(ctx, nn)
	}
}

// eraseErrorHandler оборачивает типизированный обработчик ошибок в стертую форму.
func eraseErrorHandler[N Notification](h ErrorHandler[N]) func(err error, n any) {
	return func(err error, n any) {
		if nn, ok := n.(N); ok {
			h(err, nn)
		}
	}
}

// typeOf возвращает reflect.Type параметра типа T.
func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
