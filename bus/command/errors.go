package command

import (
	"errors"
	"fmt"
)

// ErrNilCommand возвращается при попытке отправить nil вместо команды.
var ErrNilCommand = errors.New("команда не должна быть nil")

// NotFoundError возвращается, когда для типа команды не зарегистрирован
// ни один обработчик. Ошибка называет конкретный тип команды и ожидаемую
// форму обработчика.
type NotFoundError struct {
	// CommandType — имя конкретного типа команды.
	CommandType string
	// Contract — ожидаемая форма обработчика, например "CommandHandler[CreateUser, R]".
	Contract string
}

// Error реализует интерфейс error.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf(
		"обработчик для команды '%s' не найден: ожидается обработчик вида %s; проверьте регистрацию обработчиков в шине",
		e.CommandType, e.Contract,
	)
}

// AlreadyRegisteredError возвращается при повторной регистрации обработчика
// для уже занятого типа команды.
type AlreadyRegisteredError struct {
	// CommandType — имя конкретного типа команды.
	CommandType string
}

// Error реализует интерфейс error.
func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("обработчик для команды '%s' уже зарегистрирован", e.CommandType)
}

// ResultTypeError возвращается, когда тип результата, запрошенный вызывающей
// стороной, не совпадает с типом, который вернула цепочка обработки.
type ResultTypeError struct {
	// CommandType — имя конкретного типа команды.
	CommandType string
	// Expected — имя типа результата, запрошенного вызывающей стороной.
	Expected string
	// Actual — имя типа результата, возвращенного цепочкой.
	Actual string
}

// Error реализует интерфейс error.
func (e *ResultTypeError) Error() string {
	return fmt.Sprintf(
		"результат команды '%s' имеет тип %s, а вызывающая сторона ожидает %s; проверьте параметры типа при регистрации и отправке",
		e.CommandType, e.Actual, e.Expected,
	)
}
