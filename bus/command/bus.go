package command

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-reflect"
)

// Bus представляет собой потокобезопасную шину команд. Она хранит таблицу
// регистраций, сопоставляя конкретный тип команды с ее обработчиком, и
// выполняет диспетчеризацию через составленную цепочку поведений.
type Bus struct {
	mu     sync.RWMutex
	regs   map[reflect.Type]*registration
	chains sync.Map // reflect.Type -> HandlerFunc, кеш составленных цепочек
	cfg    *config
}

// registration — внутренняя запись таблицы регистраций.
type registration struct {
	commandType  reflect.Type
	responseType reflect.Type
	handlerName  string
	resolve      func() HandlerFunc
	declaredOnly bool
}

// behaviorRegistration связывает поведение с типом команды.
// Нулевой commandType означает открытое поведение, применяемое ко всем командам.
type behaviorRegistration struct {
	commandType reflect.Type
	behavior    Behavior
}

// RegistrationInfo — снимок одной записи таблицы регистраций.
// Используется валидатором запуска для статического анализа.
type RegistrationInfo struct {
	MessageType  reflect.Type
	ResponseType string
	Handlers     int
}

// NewBus создает новый, готовый к использованию экземпляр шины команд.
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

// Register регистрирует обработчик для конкретного типа команды.
// Возвращает ошибку, если обработчик для данной команды уже зарегистрирован.
func Register[C Command[R], R any](b *Bus, handler CommandHandler[C, R]) error {
	if handler == nil {
		return fmt.Errorf("обработчик для команды '%s' не должен быть nil", typeOf[C]())
	}

	erased := erase(handler)

	return b.register(typeOf[C](), typeOf[R](), getHandlerName(handler), func() HandlerFunc {
		return erased
	})
}

// RegisterVoid регистрирует обработчик пустой команды. Внутри обработчик
// приводится к форме CommandHandler[C, Unit], поэтому поведения видят
// пустые команды так же, как команды с результатом.
func RegisterVoid[C Command[Unit]](b *Bus, handler VoidHandler[C]) error {
	if handler == nil {
		return fmt.Errorf("обработчик для команды '%s' не должен быть nil", typeOf[C]())
	}

	wrapped := func(ctx context.Context, cmd C) (Unit, error) {
		return Unit{}, handler(ctx, cmd)
	}
	erased := erase[C, Unit](wrapped)

	return b.register(typeOf[C](), typeOf[Unit](), getHandlerName(handler), func() HandlerFunc {
		return erased
	})
}

// RegisterFactory регистрирует фабрику обработчиков для конкретного типа
// команды. Момент вызова фабрики определяется временем жизни, настроенным
// для шины.
func RegisterFactory[C Command[R], R any](b *Bus, factory Factory[C, R]) error {
	if factory == nil {
		return fmt.Errorf("фабрика обработчиков для команды '%s' не должна быть nil", typeOf[C]())
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

	return b.register(typeOf[C](), typeOf[R](), getHandlerName(factory), resolve)
}

// Declare объявляет тип команды частью вселенной сообщений без регистрации
// обработчика. Валидатор запуска сообщит о недостающем обработчике.
func Declare[C Command[R], R any](b *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cType := typeOf[C]()
	if _, ok := b.regs[cType]; ok {
		return
	}

	b.regs[cType] = &registration{
		commandType:  cType,
		responseType: typeOf[R](),
		declaredOnly: true,
	}
}

// Send находит и выполняет цепочку обработки для указанной команды,
// возвращая результат типа R. Тип результата указывается явно:
//
//	id, err := command.Send[uuid.UUID](ctx, bus, CreateUser{Email: email})
//
// Ошибки обработчика и поведений возвращаются без изменений.
func Send[R any](ctx context.Context, b *Bus, cmd Command[R]) (R, error) {
	var zero R

	if cmd == nil {
		return zero, ErrNilCommand
	}

	chain, err := b.chain(reflect.TypeOf(cmd))
	if err != nil {
		return zero, err
	}

	res, err := chain(ctx, cmd)
	if err != nil {
		return zero, err
	}

	out, ok := res.(R)
	if !ok {
		if res == nil {
			return zero, nil
		}
		return zero, &ResultTypeError{
			CommandType: reflect.TypeOf(cmd).String(),
			Expected:    typeOf[R]().String(),
			Actual:      fmt.Sprintf("%T", res),
		}
	}

	return out, nil
}

// Exec выполняет пустую команду. Это удобная форма Send для команд без
// результата.
func Exec[C Command[Unit]](ctx context.Context, b *Bus, cmd C) error {
	_, err := Send[Unit](ctx, b, cmd)
	return err
}

// Registrations возвращает снимок таблицы регистраций, упорядоченный по
// имени типа команды для детерминированного вывода.
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
			MessageType:  reg.commandType,
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
func (b *Bus) register(cType, rType reflect.Type, handlerName string, resolve func() HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if reg, ok := b.regs[cType]; ok && !reg.declaredOnly {
		return &AlreadyRegisteredError{CommandType: cType.String()}
	}

	b.regs[cType] = &registration{
		commandType:  cType,
		responseType: rType,
		handlerName:  handlerName,
		resolve:      resolve,
	}
	b.chains.Delete(cType)

	return nil
}

// chain возвращает составленную цепочку обработки для типа команды,
// используя кеш с семантикой compute-if-absent.
func (b *Bus) chain(cType reflect.Type) (HandlerFunc, error) {
	if cached, ok := b.chains.Load(cType); ok {
		return cached.(HandlerFunc), nil
	}

	b.mu.RLock()
	reg, ok := b.regs[cType]
	b.mu.RUnlock()

	if !ok || reg.declaredOnly {
		return nil, &NotFoundError{
			CommandType: cType.String(),
			Contract:    expectedContract(cType, reg),
		}
	}

	composed := b.compose(reg)
	actual, _ := b.chains.LoadOrStore(cType, composed)

	return actual.(HandlerFunc), nil
}

// compose строит цепочку вызова: терминальный вызов обработчика,
// применимые поведения (справа налево) и встроенную наблюдаемость поверх них.
func (b *Bus) compose(reg *registration) HandlerFunc {
	terminal := func(ctx context.Context, cmd any) (any, error) {
		return reg.resolve()(ctx, cmd)
	}

	var applicable []Behavior
	for _, br := range b.cfg.behaviors {
		if br.commandType == nil || br.commandType == reg.commandType {
			applicable = append(applicable, br.behavior)
		}
	}

	next := terminal
	for i := len(applicable) - 1; i >= 0; i-- {
		next = applicable[i](next)
	}

	info := dispatchInfo{
		operation:     "command",
		messageType:   reg.commandType.String(),
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
func expectedContract(cType reflect.Type, reg *registration) string {
	if reg != nil {
		return fmt.Sprintf("CommandHandler[%s, %s]", cType.Name(), reg.responseType.String())
	}
	return fmt.Sprintf("CommandHandler[%s, R]", cType.Name())
}

// erase оборачивает типизированный обработчик в стертую форму.
func erase[C Command[R], R any](h CommandHandler[C, R]) HandlerFunc {
	return func(ctx context.Context, cmd any) (any, error) {
		cc, ok := cmd.(C)
		if !ok {
			return nil, fmt.Errorf("команда имеет тип %T, а обработчик ожидает %s", cmd, typeOf[C]())
		}
		return h(ctx, cc)
	}
}

// typeOf возвращает reflect.Type параметра типа T.
func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
