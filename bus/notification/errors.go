package notification

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNilNotification возвращается при попытке опубликовать nil вместо уведомления.
var ErrNilNotification = errors.New("уведомление не должно быть nil")

// AggregateError собирает ошибки нескольких подписчиков одной публикации.
// Порядок ошибок соответствует порядку их возникновения для последовательных
// стратегий и порядку разрешения подписчиков для параллельных.
type AggregateError struct {
	// NotificationType — имя конкретного типа уведомления.
	NotificationType string
	// Errs — ошибки подписчиков, минимум одна.
	Errs []error
}

// Error реализует интерфейс error.
func (e *AggregateError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "доставка уведомления '%s' завершилась с %d ошибками", e.NotificationType, len(e.Errs))
	for _, err := range e.Errs {
		sb.WriteString("; ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Unwrap возвращает ошибки подписчиков для errors.Is и errors.As.
func (e *AggregateError) Unwrap() []error {
	return e.Errs
}
