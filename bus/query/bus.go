package query

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-reflect"
)

// Bus представляет собой потокобезопасную шину запросов. Она хранит таблицу
// регистраций, сопоставляя конкретный тип запроса с его обработчиком, и
// выполняет диспетчеризацию через составленную цепочку поведений.
//
// Шина безопасна для конкурентного использования. Регистрацию обработчиков
// следует завершить до начала диспетчеризации; поздняя регистрация
// потокобезопасна, но сбрасывает закешированную цепочку для своего типа.
type Bus struct {
	mu     sync.RWMutex
	regs   map[reflect.Type]*registration
	chains sync.Map // reflect.Type -> HandlerFunc, кеш составленных цепочек
	cfg    *config
}

// registration — внутренняя запись таблицы регистраций.
type registration struct {
	queryType    reflect.Type
	responseType reflect.Type
	handlerName  string
	resolve      func() HandlerFunc
	declaredOnly bool
}

// behaviorRegistration связывает поведение с типом запроса.
// Нулевой queryType означает открытое поведение, применяемое ко всем запросам.
type behaviorRegistration struct {
	queryType reflect.Type
	behavior  Behavior
}

// RegistrationInfo — снимок одной записи таблицы регистраций.
// Используется валидатором запуска для статического анализа.
type RegistrationInfo struct {
	MessageType  reflect.Type
	ResponseType string
	Handlers     int
}

// NewBus создает новый, готовый к использованию экземпляр шины запросов.
// Она принимает функциональные опции для конфигурации, например, для
// добавления поведений или настройки наблюдаемости.
func NewBus(opts ...Option) *Bus {
	cfg := &config{
		lifetime: Singleton,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &Bus{
		regs: make(map[reflect.Type]*registration),
		cfg:  cfg,
	}
}

// Register регистрирует обработчик для конкретного типа запроса.
// Этот метод является потокобезопасным.
// Возвращает ошибку, если обработчик для данного запроса уже зарегистрирован.
func Register[Q Query[R], R any](b *Bus, handler QueryHandler[Q, R]) error {
	if handler == nil {
		return fmt.Errorf("обработчик для запроса '%s' не должен быть nil", typeOf[Q]())
	}

	erased := erase(handler)

	return b.register(typeOf[Q](), typeOf[R](), getHandlerName(handler), func() HandlerFunc {
		return erased
	})
}

// RegisterFactory регистрирует фабрику обработчиков для конкретного типа
// запроса. Момент вызова фабрики определяется временем жизни, настроенным
// для шины: Singleton создает обработчик один раз при первой
// диспетчеризации, Transient — при каждой.
func RegisterFactory[Q Query[R], R any](b *Bus, factory Factory[Q, R]) error {
	if factory == nil {
		return fmt.Errorf("фабрика обработчиков для запроса '%s' не должна быть nil", typeOf[Q]())
	}

	var resolve func() HandlerFunc

	switch b.cfg.lifetime {
	case Transient:
		resolve = func() HandlerFunc {
			return erase(factory())
		}
	default:
		var once sync.Once
		var cached HandlerFunc
		resolve = func() HandlerFunc {
			once.Do(func() {
				cached = erase(factory())
			})
			return cached
		}
	}

	return b.register(typeOf[Q](), typeOf[R](), getHandlerName(factory), resolve)
}

// Declare объявляет тип запроса частью вселенной сообщений без регистрации
// обработчика. Диспетчеризация объявленного запроса завершится ошибкой
// NotFoundError, а валидатор запуска сообщит о недостающем обработчике.
func Declare[Q Query[R], R any](b *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	qType := typeOf[Q]()
	if _, ok := b.regs[qType]; ok {
		return
	}

	b.regs[qType] = &registration{
		queryType:    qType,
		responseType: typeOf[R](),
		declaredOnly: true,
	}
}

// Send находит и выполняет цепочку обработки для указанного запроса.
// Тип результата R указывается явно, так как он не выводится из маркера:
//
//	user, err := query.Send[User](ctx, bus, GetUser{ID: id})
//
// Ошибки обработчика и поведений возвращаются вызывающей стороне без
// изменений; шина сама никогда не подавляет и не оборачивает их.
func Send[R any](ctx context.Context, b *Bus, q Query[R]) (R, error) {
	var zero R

	if q == nil {
		return zero, ErrNilQuery
	}

	chain, err := b.chain(reflect.TypeOf(q))
	if err != nil {
		return zero, err
	}

	res, err := chain(ctx, q)
	if err != nil {
		return zero, err
	}

	out, ok := res.(R)
	if !ok {
		if res == nil {
			return zero, nil
		}
		return zero, &ResultTypeError{
			QueryType: reflect.TypeOf(q).String(),
			Expected:  typeOf[R]().String(),
			Actual:    fmt.Sprintf("%T", res),
		}
	}

	return out, nil
}

// Registrations возвращает снимок таблицы регистраций, упорядоченный по
// имени типа запроса для детерминированного вывода.
func (b *Bus) Registrations() []RegistrationInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]RegistrationInfo, 0, len(b.regs))
	for _, reg := range b.regs {
		handlers := 1
		if reg.declaredOnly {
			handlers = 0
		}
		out = append(out, RegistrationInfo{
			MessageType:  reg.queryType,
			ResponseType: reg.responseType.String(),
			Handlers:     handlers,
		})
	}

	slices.SortFunc(out, func(a, b RegistrationInfo) int {
		return strings.Compare(a.MessageType.String(), b.MessageType.String())
	})

	return out
}

// register добавляет запись в таблицу регистраций и сбрасывает
// закешированную цепочку для данного типа.
func (b *Bus) register(qType, rType reflect.Type, handlerName string, resolve func() HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if reg, ok := b.regs[qType]; ok && !reg.declaredOnly {
		return &AlreadyRegisteredError{QueryType: qType.String()}
	}

	b.regs[qType] = &registration{
		queryType:    qType,
		responseType: rType,
		handlerName:  handlerName,
		resolve:      resolve,
	}
	b.chains.Delete(qType)

	return nil
}

// chain возвращает составленную цепочку обработки для типа запроса,
// используя кеш с семантикой compute-if-absent: конкурентное составление
// одной и той же цепочки допустимо, противоречивые записи — нет.
func (b *Bus) chain(qType reflect.Type) (HandlerFunc, error) {
	if cached, ok := b.chains.Load(qType); ok {
		return cached.(HandlerFunc), nil
	}

	b.mu.RLock()
	reg, ok := b.regs[qType]
	b.mu.RUnlock()

	if !ok || reg.declaredOnly {
		return nil, &NotFoundError{
			QueryType: qType.String(),
			Contract:  expectedContract(qType, reg),
		}
	}

	composed := b.compose(reg)
	actual, _ := b.chains.LoadOrStore(qType, composed)

	return actual.(HandlerFunc), nil
}

// compose строит цепочку вызова: терминальный вызов обработчика,
// обернутый в применимые поведения (справа налево, первое
// зарегистрированное — внешнее), и встроенную наблюдаемость поверх них.
func (b *Bus) compose(reg *registration) HandlerFunc {
	terminal := func(ctx context.Context, q any) (any, error) {
		return reg.resolve()(ctx, q)
	}

	var applicable []Behavior
	for _, br := range b.cfg.behaviors {
		if br.queryType == nil || br.queryType == reg.queryType {
			applicable = append(applicable, br.behavior)
		}
	}

	next := terminal
	for i := len(applicable) - 1; i >= 0; i-- {
		next = applicable[i](next)
	}

	info := dispatchInfo{
		operation:     "query",
		messageType:   reg.queryType.String(),
		responseType:  reg.responseType.String(),
		handlerName:   reg.handlerName,
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

// expectedContract строит человекочитаемое имя ожидаемого контракта
// обработчика для сообщений об ошибках.
func expectedContract(qType reflect.Type, reg *registration) string {
	if reg != nil {
		return fmt.Sprintf("QueryHandler[%s, %s]", qType.Name(), reg.responseType.String())
	}
	return fmt.Sprintf("QueryHandler[%s, R]", qType.Name())
}

// erase оборачивает типизированный обработчик в стертую форму для
// использования в цепочке поведений.
func erase[Q Query[R], R any](h QueryHandler[Q, R]) HandlerFunc {
	return func(ctx context.Context, q any) (any, error) {
		qq, ok := q.(Q)
		if !ok {
			return nil, fmt.Errorf("запрос имеет тип %T, а обработчик ожидает %s", q, typeOf[Q]())
		}
		return h(ctx, qq)
	}
}

// typeOf возвращает reflect.Type параметра типа T.
func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
