package validator

import (
	"fmt"
	"strings"
)

// ConfigError собирает все находки проверки в одну ошибку. Текст группирует
// находки по категориям и для каждой подсказывает способ исправления.
type ConfigError struct {
	Findings []Finding
}

// Error реализует интерфейс error.
func (e *ConfigError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "конфигурация шин содержит %d ошибок:", len(e.Findings))

	for _, category := range []Category{EmptyUniverse, AmbiguousKind, MissingHandler, DuplicateHandler} {
		for _, f := range e.Findings {
			if f.Category != category {
				continue
			}
			sb.WriteString("\n  - ")
			sb.WriteString(f.detail())
		}
	}

	return sb.String()
}

// detail строит человекочитаемое описание одной находки с подсказкой.
func (f Finding) detail() string {
	switch f.Category {
	case AmbiguousKind:
		names := make([]string, 0, len(f.Kinds))
		for _, k := range f.Kinds {
			names = append(names, k.String())
		}
		return fmt.Sprintf(
			"тип '%s' зарегистрирован сразу в нескольких видах сообщений (%s); оставьте тип ровно в одном виде",
			f.MessageType, strings.Join(names, ", "),
		)
	case MissingHandler:
		if f.ResponseType != "" {
			return fmt.Sprintf(
				"для типа '%s' (%s, результат %s) не зарегистрирован обработчик; зарегистрируйте обработчик или удалите объявление",
				f.MessageType, f.Kind, f.ResponseType,
			)
		}
		return fmt.Sprintf(
			"для типа '%s' (%s) не зарегистрирован обработчик; зарегистрируйте обработчик или удалите объявление",
			f.MessageType, f.Kind,
		)
	case DuplicateHandler:
		return fmt.Sprintf(
			"для типа '%s' (%s) зарегистрировано %d обработчиков, ожидается ровно один; удалите лишние регистрации",
			f.MessageType, f.Kind, f.Handlers,
		)
	case EmptyUniverse:
		return "вселенная сообщений пуста: не зарегистрировано и не объявлено ни одного сообщения; зарегистрируйте обработчики до вызова проверки"
	default:
		return fmt.Sprintf("неизвестная находка для типа '%s'", f.MessageType)
	}
}
