package stream

import (
	"errors"
	"fmt"
)

// ErrNilQuery возвращается при попытке открыть поток для nil вместо запроса.
var ErrNilQuery = errors.New("потоковый запрос не должен быть nil")

// NotFoundError возвращается, когда для типа потокового запроса не
// зарегистрирован обработчик. Ошибка поступает первой и единственной парой
// возвращаемой последовательности.
type NotFoundError struct {
	// QueryType — имя конкретного типа запроса.
	QueryType string
	// Contract — ожидаемая форма обработчика, например "StreamHandler[ListUsers, R]".
	Contract string
}

// Error реализует интерфейс error.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf(
		"обработчик для потокового запроса '%s' не найден: ожидается обработчик вида %s; проверьте регистрацию обработчиков в шине",
		e.QueryType, e.Contract,
	)
}

// AlreadyRegisteredError возвращается при повторной регистрации обработчика
// для уже занятого типа потокового запроса.
type AlreadyRegisteredError struct {
	// QueryType — имя конкретного типа запроса.
	QueryType string
}

// Error реализует интерфейс error.
func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("обработчик для потокового запроса '%s' уже зарегистрирован", e.QueryType)
}

// ElementTypeError возвращается, когда тип элемента, запрошенный вызывающей
// стороной, не совпадает с типом элемента, который произвела цепочка.
type ElementTypeError struct {
	// QueryType — имя конкретного типа запроса.
	QueryType string
	// Expected — имя типа элемента, запрошенного вызывающей стороной.
	Expected string
	// Actual — имя типа элемента, произведенного цепочкой.
	Actual string
}

// Error реализует интерфейс error.
func (e *ElementTypeError) Error() string {
	return fmt.Sprintf(
		"элемент потока запроса '%s' имеет тип %s, а вызывающая сторона ожидает %s; проверьте параметры типа при регистрации и открытии потока",
		e.QueryType, e.Actual, e.Expected,
	)
}
