// Package query реализует шину запросов: маршрутизацию неизменяемых
// запросов к их строго типизированным обработчикам через цепочку
// поведений (middleware). Каждый запрос идентифицируется своим
// конкретным типом во время выполнения; ровно один обработчик
// обслуживает один тип запроса.
package query

import "context"

// Query представляет собой интерфейс-маркер для запроса, параметризованный
// типом возвращаемого значения R.
// Каждый запрос - это уникальный, идемпотентный запрос на получение данных.
type Query[R any] interface{}

// QueryHandler определяет строго типизированную функцию-обработчик для запроса Q,
// которая возвращает результат типа R.
type QueryHandler[Q Query[R], R any] func(ctx context.Context, q Q) (R, error)

// Factory создает экземпляр обработчика. Момент вызова фабрики определяется
// временем жизни (Lifetime), настроенным для шины.
type Factory[Q Query[R], R any] func() QueryHandler[Q, R]

// HandlerFunc — это стертая (type-erased) форма обработчика запроса.
// Цепочка поведений оперирует именно этой формой, что позволяет применять
// одни и те же поведения к запросам любых типов.
type HandlerFunc func(ctx context.Context, q any) (any, error)

// Behavior — это поведение (middleware) вокруг вызова обработчика.
// Оно принимает следующий обработчик в цепочке и возвращает новый обработчик.
// Поведения применяются в обратном порядке регистрации, поэтому первое
// зарегистрированное поведение оказывается внешним: его логика "до"
// выполняется первой, а логика "после" — последней.
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
