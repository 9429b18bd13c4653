package stream

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-reflect"
)

// Bus представляет собой потокобезопасную шину потоковых запросов. Она
// хранит таблицу регистраций, сопоставляя конкретный тип запроса с его
// обработчиком, и выполняет диспетчеризацию через составленную цепочку
// поведений.
type Bus struct {
	mu     sync.RWMutex
	regs   map[reflect.Type]*registration
	chains sync.Map // reflect.Type -> HandlerFunc, кеш составленных цепочек
	cfg    *config
}

// registration — внутренняя запись таблицы регистраций.
type registration struct {
	queryType    reflect.Type
	elementType  reflect.Type
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

// NewBus создает новый, готовый к использованию экземпляр шины потоковых запросов.
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

// Register регистрирует обработчик для конкретного типа потокового запроса.
// Возвращает ошибку, если обработчик для данного запроса уже зарегистрирован.
func Register[Q Query[R], R any](b *Bus, handler Handler[Q, R]) error {
	if handler == nil {
		return fmt.Errorf("обработчик для потокового запроса '%s' не должен быть nil", typeOf[Q]())
	}

	erased := erase(handler)

	return b.register(typeOf[Q](), typeOf[R](), getHandlerName(handler), func() HandlerFunc {
		return erased
	})
}

// RegisterFactory регистрирует фабрику обработчиков для конкретного типа
// потокового запроса. Момент вызова фабрики определяется временем жизни,
// настроенным для шины.
func RegisterFactory[Q Query[R], R any](b *Bus, factory Factory[Q, R]) error {
	if factory == nil {
		return fmt.Errorf("фабрика обработчиков для потокового запроса '%s' не должна быть nil", typeOf[Q]())
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

// Declare объявляет тип потокового запроса частью вселенной сообщений без
// регистрации обработчика. Валидатор запуска сообщит о недостающем обработчике.
func Declare[Q Query[R], R any](b *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	qType := typeOf[Q]()
	if _, ok := b.regs[qType]; ok {
		return
	}

	b.regs[qType] = &registration{
		queryType:    qType,
		elementType:  typeOf[R](),
		declaredOnly: true,
	}
}

// Stream находит цепочку обработки для указанного потокового запроса и
// возвращает ленивую последовательность пар (элемент, ошибка). Обработчик
// не вызывается до начала итерации. Ошибки поиска обработчика поступают
// первой и единственной парой. Ошибка в середине потока поступает после
// уже выданных элементов и останавливает дальнейшее производство. Отмена
// контекста останавливает последовательность при следующем элементе.
func Stream[R any](ctx context.Context, b *Bus, q Query[R]) iter.Seq2[R, error] {
	var zero R

	if q == nil {
		return failSeq[R](ErrNilQuery)
	}

	chain, err := b.chain(reflect.TypeOf(q))
	if err != nil {
		return failSeq[R](err)
	}

	return func(yield func(R, error) bool) {
		for v, err := range chain(ctx, q) {
			if cerr := ctx.Err(); cerr != nil {
				yield(zero, cerr)
				return
			}
			if err != nil {
				yield(zero, err)
				return
			}

			out, ok := v.(R)
			if !ok {
				if v == nil {
					if !yield(zero, nil) {
						return
					}
					continue
				}
				yield(zero, &ElementTypeError{
					QueryType: reflect.TypeOf(q).String(),
					Expected:  typeOf[R]().String(),
					Actual:    fmt.Sprintf("%T", v),
				})
				return
			}

			if !yield(out, nil) {
				return
			}
		}
	}
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
			ResponseType: reg.elementType.String(),
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
func (b *Bus) register(qType, eType reflect.Type, handlerName string, resolve func() HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if reg, ok := b.regs[qType]; ok && !reg.declaredOnly {
		return &AlreadyRegisteredError{QueryType: qType.String()}
	}

	b.regs[qType] = &registration{
		queryType:   qType,
		elementType: eType,
		handlerName: handlerName,
		resolve:     resolve,
	}
	b.chains.Delete(qType)

	return nil
}

// chain возвращает составленную цепочку обработки для типа запроса,
// используя кеш с семантикой compute-if-absent.
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
// применимые поведения (справа налево) и встроенную наблюдаемость поверх них.
func (b *Bus) compose(reg *registration) HandlerFunc {
	terminal := func(ctx context.Context, q any) iter.Seq2[any, error] {
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
		operation:     "stream",
		messageType:   reg.queryType.String(),
		responseType:  reg.elementType.String(),
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
		return fmt.Sprintf("StreamHandler[%s, %s]", qType.Name(), reg.elementType.String())
	}
	return fmt.Sprintf("StreamHandler[%s, R]", qType.Name())
}

// failSeq возвращает последовательность, состоящую из единственной пары с ошибкой.
func failSeq[R any](err error) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		var zero R
		yield(zero, err)
	}
}

// erase оборачивает типизированный обработчик в стертую форму.
func erase[Q Query[R], R any](h Handler[Q, R]) HandlerFunc {
	return func(ctx context.Context, q any) iter.Seq2[any, error] {
		qq, ok := q.(Q)
		if !ok {
			return failSeq[any](fmt.Errorf("потоковый запрос имеет тип %T, а обработчик ожидает %s", q, typeOf[Q]()))
		}

		inner := h(ctx, qq)
		return func(yield func(any, error) bool) {
			for v, err := range inner {
				if !yield(v, err) {
					return
				}
			}
		}
	}
}

// typeOf возвращает reflect.Type параметра типа T.
func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
