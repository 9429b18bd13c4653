// Package notification реализует шину уведомлений: публикацию с веерной
// доставкой нуль-или-более подписчикам. Разрешение подписчиков полиморфно:
// уведомление доставляется обработчикам, подписанным на его конкретный тип,
// и обработчикам, подписанным на любой зарегистрированный интерфейс, который
// этот тип реализует. Доставка управляется одной из четырех стратегий,
// определяющих порядок вызова и агрегацию ошибок.
package notification

import "context"

// Notification представляет собой интерфейс-маркер для уведомления.
// Уведомление — это свершившийся факт, у него может быть сколько угодно
// подписчиков, включая ноль.
type Notification interface{}

// Handler определяет строго типизированную функцию-обработчик для
// уведомления N. Подписка на интерфейсный тип N означает получение всех
// уведомлений, конкретный тип которых реализует N.
type Handler[N Notification] func(ctx context.Context, n N) error

// ErrorHandler — это функция для обработки ошибок, возникших в Handler
// при доставке со стратегией ParallelNoWait, когда вернуть ошибку
// вызывающей стороне уже некому.
type ErrorHandler[N Notification] func(err error, n N)

// HandlerFunc — это стертая (type-erased) форма обработчика уведомления.
// Цепочка поведений оперирует именно этой формой.
type HandlerFunc func(ctx context.Context, n any) error

// Behavior — это поведение (middleware) вокруг вызова обработчика.
// Цепочка поведений оборачивает каждую пару (обработчик, уведомление)
// по отдельности.
type Behavior func(next HandlerFunc) HandlerFunc

// Strategy определяет порядок вызова подписчиков и агрегацию их ошибок
// при публикации одного уведомления.
type Strategy int

const (
	// StopOnFirstError — последовательная доставка в порядке разрешения;
	// первая ошибка останавливает доставку и возвращается без изменений.
	StopOnFirstError Strategy = iota
	// ContinueOnError — последовательная доставка всем подписчикам;
	// ошибки собираются в AggregateError в порядке возникновения.
	ContinueOnError
	// ParallelWhenAll — параллельная доставка с ожиданием всех
	// подписчиков; ошибки собираются в AggregateError в порядке разрешения.
	ParallelWhenAll
	// ParallelNoWait — отправка задач в пул воркеров без ожидания;
	// Publish возвращается сразу, ошибки поступают в ErrorHandler
	// подписки либо в логгер шины.
	ParallelNoWait
)

// String возвращает строковое представление стратегии.
func (s Strategy) String() string {
	switch s {
	case StopOnFirstError:
		return "stop_on_first_error"
	case ContinueOnError:
		return "continue_on_error"
	case ParallelWhenAll:
		return "parallel_when_all"
	case ParallelNoWait:
		return "parallel_no_wait"
	default:
		return "unknown"
	}
}

// Metadatable определяет интерфейс для объектов, которые могут нести метаданные.
type Metadatable interface {
	Metadata() map[string]string
}
