// Package validator реализует проверку графа обработчиков при запуске.
// Валидатор читает таблицы регистраций всех шин и находит ошибки
// конфигурации до начала обработки трафика: пустую вселенную сообщений,
// объявленные сообщения без обработчиков, дублирующие регистрации и типы,
// зарегистрированные сразу в нескольких видах сообщений.
package validator

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/goccy/go-reflect"
)

// Kind определяет вид сообщения во вселенной шин.
type Kind int

const (
	KindQuery Kind = iota
	KindCommand
	KindStream
	KindNotification
)

// String возвращает строковое представление вида сообщения.
func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindCommand:
		return "command"
	case KindStream:
		return "stream"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Mode определяет реакцию на найденные ошибки конфигурации.
type Mode int

const (
	// ModeNone — проверка не выполняется.
	ModeNone Mode = iota
	// ModeWarn — находки логируются, запуск продолжается.
	ModeWarn
	// ModeFailFast — находки возвращаются одной ошибкой ConfigError.
	ModeFailFast
)

// String возвращает строковое представление режима проверки.
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeWarn:
		return "warn"
	case ModeFailFast:
		return "fail_fast"
	default:
		return "unknown"
	}
}

// Category определяет категорию находки.
type Category int

const (
	// MissingHandler — тип сообщения объявлен, но обработчик не
	// зарегистрирован. К уведомлениям не применяется: ноль подписчиков
	// для них допустим.
	MissingHandler Category = iota
	// DuplicateHandler — для вида с единственным обработчиком
	// зарегистрировано больше одного.
	DuplicateHandler
	// AmbiguousKind — один тип сообщения зарегистрирован в нескольких видах.
	AmbiguousKind
	// EmptyUniverse — во вселенной сообщений нет ни одной регистрации и ни
	// одного объявления. Всегда фатально для запуска в режиме FailFast:
	// медиатор без единого сообщения не может обрабатывать трафик.
	EmptyUniverse
)

// String возвращает строковое представление категории находки.
func (c Category) String() string {
	switch c {
	case MissingHandler:
		return "missing_handler"
	case DuplicateHandler:
		return "duplicate_handler"
	case AmbiguousKind:
		return "ambiguous_kind"
	case EmptyUniverse:
		return "empty_universe"
	default:
		return "unknown"
	}
}

// Entry — одна запись таблицы регистраций: тип сообщения и количество
// зарегистрированных для него обработчиков.
type Entry struct {
	MessageType reflect.Type
	Handlers    int
	// ResponseType — строковое имя типа результата для запросов, команд
	// и потоков. Для уведомлений пустая строка.
	ResponseType string
}

// Table — таблица регистраций одной шины.
type Table struct {
	Kind    Kind
	Entries []Entry
}

// Finding — одна находка проверки.
type Finding struct {
	Category    Category
	MessageType reflect.Type
	// Kind — вид сообщения для находок Missing и Duplicate.
	Kind Kind
	// Kinds — все виды, в которых зарегистрирован тип, для находки Ambiguous.
	Kinds []Kind
	// Handlers — количество регистраций для находки Duplicate.
	Handlers int
	// ResponseType — тип результата сообщения, если шина его сообщила.
	ResponseType string
}

// Validate проверяет таблицы регистраций и возвращает находки в
// детерминированном порядке: сначала по категории, затем по имени типа.
// Пустой результат означает корректную конфигурацию.
func Validate(tables ...Table) []Finding {
	var findings []Finding

	total := 0
	for _, table := range tables {
		total += len(table.Entries)
	}
	if total == 0 {
		return []Finding{{Category: EmptyUniverse}}
	}

	kindsByType := make(map[reflect.Type][]Kind)
	var typeOrder []reflect.Type
	for _, table := range tables {
		for _, entry := range table.Entries {
			if _, ok := kindsByType[entry.MessageType]; !ok {
				typeOrder = append(typeOrder, entry.MessageType)
			}
			if !slices.Contains(kindsByType[entry.MessageType], table.Kind) {
				kindsByType[entry.MessageType] = append(kindsByType[entry.MessageType], table.Kind)
			}
		}
	}

	for _, mType := range typeOrder {
		if kinds := kindsByType[mType]; len(kinds) > 1 {
			findings = append(findings, Finding{
				Category:    AmbiguousKind,
				MessageType: mType,
				Kinds:       kinds,
			})
		}
	}

	for _, table := range tables {
		for _, entry := range table.Entries {
			switch {
			case entry.Handlers == 0 && table.Kind != KindNotification:
				findings = append(findings, Finding{
					Category:     MissingHandler,
					MessageType:  entry.MessageType,
					Kind:         table.Kind,
					ResponseType: entry.ResponseType,
				})
			case entry.Handlers > 1 && table.Kind != KindNotification:
				findings = append(findings, Finding{
					Category:     DuplicateHandler,
					MessageType:  entry.MessageType,
					Kind:         table.Kind,
					Handlers:     entry.Handlers,
					ResponseType: entry.ResponseType,
				})
			}
		}
	}

	slices.SortStableFunc(findings, func(a, b Finding) int {
		if a.Category != b.Category {
			return int(a.Category) - int(b.Category)
		}
		return strings.Compare(a.MessageType.String(), b.MessageType.String())
	})

	return findings
}

// Run выполняет проверку и применяет режим реакции. В режиме Warn находки
// логируются и запуск продолжается; в режиме FailFast возвращается одна
// ошибка ConfigError со всеми находками.
func Run(mode Mode, logger *slog.Logger, tables ...Table) error {
	if mode == ModeNone {
		return nil
	}

	findings := Validate(tables...)
	if len(findings) == 0 {
		return nil
	}

	if mode == ModeWarn {
		if logger != nil {
			for _, f := range findings {
				messageType := ""
				if f.MessageType != nil {
					messageType = f.MessageType.String()
				}
				logger.Warn("найдена ошибка конфигурации шин",
					slog.String("category", f.Category.String()),
					slog.String("message_type", messageType),
					slog.String("detail", f.detail()),
				)
			}
		}
		return nil
	}

	return &ConfigError{Findings: findings}
}
