// Package stream реализует шину потоковых запросов: маршрутизацию запроса
// к обработчику, который возвращает ленивую последовательность результатов.
// Последовательность вытягивается вызывающей стороной по мере потребления,
// элементы не буферизуются. Поведения (middleware) могут наблюдать,
// фильтровать и преобразовывать пары (результат, ошибка), сохраняя порядок
// итерации.
package stream

import (
	"context"
	"iter"
)

// Query представляет собой интерфейс-маркер для потокового запроса,
// параметризованный типом элемента последовательности R.
type Query[R any] interface{}

// Handler определяет строго типизированный обработчик потокового запроса Q.
// Возвращаемая последовательность вычисляется лениво: обработчик не должен
// производить элементы до начала итерации.
type Handler[Q Query[R], R any] func(ctx context.Context, q Q) iter.Seq2[R, error]

// Factory создает экземпляр обработчика. Момент вызова фабрики определяется
// временем жизни (Lifetime), настроенным для шины.
type Factory[Q Query[R], R any] func() Handler[Q, R]

// HandlerFunc — это стертая (type-erased) форма обработчика потокового
// запроса. Цепочка поведений оперирует именно этой формой.
type HandlerFunc func(ctx context.Context, q any) iter.Seq2[any, error]

// Behavior — это поведение (middleware) вокруг обработчика потокового
// запроса. Поведение может обернуть возвращаемую последовательность, но
// обязано сохранять порядок элементов и передавать отмену контекста
// внутренней последовательности.
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
