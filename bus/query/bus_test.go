package query_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/mediator/bus/query"
)

// Тестовый запрос для проверки.
type getUserQuery struct {
	ID int
}

// Результат тестового запроса.
type user struct {
	Name  string
	Email string
}

// Тестовый запрос без обработчика.
type orphanQuery struct{}

// Тестовый обработчик запроса.
func getUserHandler(ctx context.Context, q getUserQuery) (user, error) {
	return user{Name: "John Doe", Email: "john@example.com"}, nil
}

// Тест успешной регистрации и выполнения запроса: DTO возвращается без изменений.
func TestBus_Send_Success(t *testing.T) {
	t.Parallel()

	bus := query.NewBus()
	err := query.Register(bus, getUserHandler)
	require.NoError(t, err, "Регистрация обработчика не должна вызывать ошибку")

	result, err := query.Send[user](context.Background(), bus, getUserQuery{ID: 123})

	require.NoError(t, err, "Выполнение запроса не должно вызывать ошибку")
	assert.Equal(t, user{Name: "John Doe", Email: "john@example.com"}, result, "Результат должен вернуться без изменений")
}

// Тест ошибки при отправке запроса без зарегистрированного обработчика.
func TestBus_Send_NoHandler(t *testing.T) {
	t.Parallel()

	bus := query.NewBus()

	_, err := query.Send[user](context.Background(), bus, orphanQuery{})

	require.Error(t, err, "Выполнение запроса без обработчика должно вызывать ошибку")

	var notFound *query.NotFoundError
	require.ErrorAs(t, err, &notFound, "Ошибка должна иметь тип NotFoundError")
	assert.Contains(t, err.Error(), "orphanQuery", "Текст ошибки должен называть конкретный тип запроса")
	assert.Contains(t, err.Error(), "QueryHandler[orphanQuery", "Текст ошибки должен называть ожидаемый контракт обработчика")
	assert.Contains(t, err.Error(), "проверьте регистрацию", "Текст ошибки должен подсказывать решение")
}

// Тест ошибки при отправке nil вместо запроса.
func TestBus_Send_NilQuery(t *testing.T) {
	t.Parallel()

	bus := query.NewBus()

	_, err := query.Send[user](context.Background(), bus, nil)

	require.ErrorIs(t, err, query.ErrNilQuery, "Отправка nil должна возвращать ErrNilQuery")
}

// Тест ошибки при повторной регистрации обработчика.
func TestBus_Register_AlreadyRegistered(t *testing.T) {
	t.Parallel()

	bus := query.NewBus()
	err := query.Register(bus, getUserHandler)
	require.NoError(t, err, "Первая регистрация обработчика не должна вызывать ошибку")

	err = query.Register(bus, getUserHandler)

	require.Error(t, err, "Повторная регистрация обработчика должна вызывать ошибку")

	var already *query.AlreadyRegisteredError
	require.ErrorAs(t, err, &already, "Ошибка должна иметь тип AlreadyRegisteredError")
	assert.Contains(t, err.Error(), "уже зарегистрирован", "Текст ошибки должен сообщать о дублировании")
}

// Тест прозрачной передачи ошибки обработчика вызывающей стороне.
func TestBus_Send_HandlerError(t *testing.T) {
	t.Parallel()

	bus := query.NewBus()
	handlerErr := errors.New("хранилище недоступно")

	err := query.Register(bus, func(ctx context.Context, q getUserQuery) (user, error) {
		return user{}, handlerErr
	})
	require.NoError(t, err)

	_, err = query.Send[user](context.Background(), bus, getUserQuery{ID: 1})

	require.ErrorIs(t, err, handlerErr, "Ошибка обработчика должна вернуться без изменений")
}

// Тест порядка выполнения цепочки поведений: первое зарегистрированное —
// внешнее (его логика "до" первая, логика "после" — последняя).
func TestBus_Behaviors_OnionOrder(t *testing.T) {
	t.Parallel()

	var trace []string

	record := func(name string) query.Behavior {
		return func(next query.HandlerFunc) query.HandlerFunc {
			return func(ctx context.Context, q any) (any, error) {
				trace = append(trace, name+"-before")
				res, err := next(ctx, q)
				trace = append(trace, name+"-after")
				return res, err
			}
		}
	}

	bus := query.NewBus(
		query.WithBehavior(record("first"), record("second")),
		query.WithBehavior(record("third")),
	)

	err := query.Register(bus, func(ctx context.Context, q getUserQuery) (user, error) {
		trace = append(trace, "handler")
		return user{}, nil
	})
	require.NoError(t, err)

	_, err = query.Send[user](context.Background(), bus, getUserQuery{})
	require.NoError(t, err)

	expected := []string{
		"first-before", "second-before", "third-before",
		"handler",
		"third-after", "second-after", "first-after",
	}
	assert.Equal(t, expected, trace, "Цепочка должна выполняться в луковичном порядке регистрации")
}

// Тест привязанного поведения: оно применяется только к своему типу запроса.
func TestBus_BehaviorFor_OnlyMatchingType(t *testing.T) {
	t.Parallel()

	var boundCalls, openCalls int

	bound := func(next query.HandlerFunc) query.HandlerFunc {
		return func(ctx context.Context, q any) (any, error) {
			boundCalls++
			return next(ctx, q)
		}
	}
	open := func(next query.HandlerFunc) query.HandlerFunc {
		return func(ctx context.Context, q any) (any, error) {
			openCalls++
			return next(ctx, q)
		}
	}

	bus := query.NewBus(
		query.WithBehavior(open),
		query.WithBehaviorFor[getUserQuery, user](bound),
	)

	require.NoError(t, query.Register(bus, getUserHandler))
	require.NoError(t, query.Register(bus, func(ctx context.Context, q orphanQuery) (int, error) {
		return 42, nil
	}))

	_, err := query.Send[user](context.Background(), bus, getUserQuery{})
	require.NoError(t, err)
	_, err = query.Send[int](context.Background(), bus, orphanQuery{})
	require.NoError(t, err)

	assert.Equal(t, 1, boundCalls, "Привязанное поведение должно выполниться только для своего типа")
	assert.Equal(t, 2, openCalls, "Открытое поведение должно выполниться для обоих типов")
}

// Тест времени жизни Transient: фабрика вызывается при каждой диспетчеризации.
func TestBus_RegisterFactory_Transient(t *testing.T) {
	t.Parallel()

	bus := query.NewBus(query.WithHandlerLifetime(query.Transient))

	var created int
	err := query.RegisterFactory(bus, func() query.QueryHandler[getUserQuery, user] {
		created++
		return getUserHandler
	})
	require.NoError(t, err)

	for range 3 {
		_, err := query.Send[user](context.Background(), bus, getUserQuery{})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, created, "Фабрика Transient должна вызываться при каждой диспетчеризации")
}

// Тест времени жизни Singleton: фабрика вызывается ровно один раз.
func TestBus_RegisterFactory_Singleton(t *testing.T) {
	t.Parallel()

	bus := query.NewBus()

	var created int
	err := query.RegisterFactory(bus, func() query.QueryHandler[getUserQuery, user] {
		created++
		return getUserHandler
	})
	require.NoError(t, err)

	for range 3 {
		_, err := query.Send[user](context.Background(), bus, getUserQuery{})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, created, "Фабрика Singleton должна вызываться ровно один раз")
}

// Тест объявления типа запроса без обработчика: диспетчеризация завершается
// ошибкой NotFoundError, а снимок таблицы содержит запись без обработчиков.
func TestBus_Declare(t *testing.T) {
	t.Parallel()

	bus := query.NewBus()
	query.Declare[orphanQuery, int](bus)

	_, err := query.Send[int](context.Background(), bus, orphanQuery{})

	var notFound *query.NotFoundError
	require.ErrorAs(t, err, &notFound, "Объявленный запрос без обработчика должен возвращать NotFoundError")
	assert.Contains(t, err.Error(), "QueryHandler[orphanQuery, int]", "Контракт должен называть объявленный тип результата")

	regs := bus.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, 0, regs[0].Handlers, "Объявленный тип не должен иметь обработчиков")
}

// Тест на потокобезопасность кеша цепочек при конкурентной диспетчеризации.
func TestBus_Send_Concurrency(t *testing.T) {
	t.Parallel()

	bus := query.NewBus()
	require.NoError(t, query.Register(bus, getUserHandler))

	goroutines := 100
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			result, err := query.Send[user](context.Background(), bus, getUserQuery{ID: 7})
			assert.NoError(t, err)
			assert.Equal(t, "John Doe", result.Name)
		}()
	}

	wg.Wait()
}
