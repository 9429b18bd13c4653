package query

import (
	"errors"
	"fmt"
)

// ErrNilQuery возвращается при попытке отправить nil вместо запроса.
var ErrNilQuery = errors.New("запрос не должен быть nil")

// NotFoundError возвращается, когда для типа запроса не зарегистрирован
// ни один обработчик. Ошибка называет конкретный тип запроса и ожидаемую
// форму обработчика, чтобы ошибку конфигурации можно было исправить сразу.
type NotFoundError struct {
	// QueryType — имя конкретного типа запроса.
	QueryType string
	// Contract — ожидаемая форма обработчика, например "QueryHandler[GetUser, R]".
	Contract string
}

// Error реализует интерфейс error.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf(
		"обработчик для запроса '%s' не найден: ожидается обработчик вида %s; проверьте регистрацию обработчиков в шине",
		e.QueryType, e.Contract,
	)
}

// AlreadyRegisteredError возвращается при повторной регистрации обработчика
// для уже занятого типа запроса. Дублирование обработчиков для запроса —
// всегда ошибка конфигурации и пресекается в момент регистрации.
type AlreadyRegisteredError struct {
	// QueryType — имя конкретного типа запроса.
	QueryType string
}

// Error реализует интерфейс error.
func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("обработчик для запроса '%s' уже зарегистрирован", e.QueryType)
}

// ResultTypeError возвращается, когда тип результата, запрошенный вызывающей
// стороной, не совпадает с типом, который вернула цепочка обработки.
type ResultTypeError struct {
	// QueryType — имя конкретного типа запроса.
	QueryType string
	// Expected — имя типа результата, запрошенного вызывающей стороной.
	Expected string
	// Actual — имя типа результата, возвращенного цепочкой.
	Actual string
}

// Error реализует интерфейс error.
func (e *ResultTypeError) Error() string {
	return fmt.Sprintf(
		"результат запроса '%s' имеет тип %s, а вызывающая сторона ожидает %s; проверьте параметры типа при регистрации и отправке",
		e.QueryType, e.Actual, e.Expected,
	)
}
