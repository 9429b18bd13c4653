// Package command реализует шину команд: маршрутизацию команд к их строго
// типизированным обработчикам через цепочку поведений (middleware).
// Команда представляет запрос на выполнение операции и может возвращать
// результат типа R либо быть пустой (Unit) для операций без результата.
package command

import "context"

// Command представляет собой интерфейс-маркер для команды, параметризованный
// типом возвращаемого значения R.
// Каждая команда - это уникальный запрос на выполнение операции.
type Command[R any] interface{}

// Unit — пустой тип-результат для команд без возвращаемого значения.
// Он позволяет писать поведения обобщенно над любым типом результата,
// не выделяя пустые команды в отдельный случай.
type Unit struct{}

// CommandHandler определяет строго типизированную функцию-обработчик для команды C,
// которая возвращает результат типа R.
type CommandHandler[C Command[R], R any] func(ctx context.Context, cmd C) (R, error)

// VoidHandler определяет обработчик пустой команды: только ошибка, без результата.
type VoidHandler[C Command[Unit]] func(ctx context.Context, cmd C) error

// Factory создает экземпляр обработчика. Момент вызова фабрики определяется
// временем жизни (Lifetime), настроенным для шины.
type Factory[C Command[R], R any] func() CommandHandler[C, R]

// HandlerFunc — это стертая (type-erased) форма обработчика команды.
// Цепочка поведений оперирует именно этой формой.
type HandlerFunc func(ctx context.Context, cmd any) (any, error)

// Behavior — это поведение (middleware) вокруг вызова обработчика.
// Поведения применяются в обратном порядке регистрации: первое
// зарегистрированное поведение оказывается внешним.
type Behavior func(next HandlerFunc) HandlerFunc

// Lifetime определяет время жизни обработчиков, создаваемых фабриками.
type Lifetime int

const (
	// Singleton — фабрика вызывается один раз, экземпляр переиспользуется.
	Singleton Lifetime = iota
	// Transient — фабрика вызывается при каждой диспетчеризации.
	Transient
)

// String возвращает строковое представление времени жизни.
func (l Lifetime) String() string {
	switch l {
	case Singleton:
		return "singleton"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// Metadatable определяет интерфейс для объектов, которые могут нести метаданные.
type Metadatable interface {
	Metadata() map[string]string
}
