package command_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/mediator/bus/command"
)

// Тестовая команда с результатом.
type createUserCommand struct {
	ID    int
	Email string
}

// Тестовая пустая команда.
type deactivateUserCommand struct {
	ID int
}

// Тестовая команда без обработчика.
type orphanCommand struct{}

// Тестовый обработчик команды.
func createUserHandler(ctx context.Context, cmd createUserCommand) (int, error) {
	return cmd.ID, nil
}

// Тест успешной регистрации и выполнения команды с результатом.
func TestBus_Send_Success(t *testing.T) {
	t.Parallel()

	bus := command.NewBus()
	err := command.Register(bus, createUserHandler)
	require.NoError(t, err, "Регистрация обработчика не должна вызывать ошибку")

	id, err := command.Send[int](context.Background(), bus, createUserCommand{ID: 42, Email: "john@example.com"})

	require.NoError(t, err, "Выполнение команды не должно вызывать ошибку")
	assert.Equal(t, 42, id, "Результат должен вернуться без изменений")
}

// Тест выполнения пустой команды через Exec.
func TestBus_Exec_Void(t *testing.T) {
	t.Parallel()

	bus := command.NewBus()

	var handled bool
	err := command.RegisterVoid(bus, func(ctx context.Context, cmd deactivateUserCommand) error {
		handled = true
		return nil
	})
	require.NoError(t, err, "Регистрация обработчика не должна вызывать ошибку")

	err = command.Exec(context.Background(), bus, deactivateUserCommand{ID: 7})

	require.NoError(t, err, "Выполнение пустой команды не должно вызывать ошибку")
	assert.True(t, handled, "Обработчик должен быть вызван")
}

// Тест прозрачной передачи ошибки обработчика пустой команды.
func TestBus_Exec_HandlerError(t *testing.T) {
	t.Parallel()

	bus := command.NewBus()
	handlerErr := errors.New("пользователь не найден")

	err := command.RegisterVoid(bus, func(ctx context.Context, cmd deactivateUserCommand) error {
		return handlerErr
	})
	require.NoError(t, err)

	err = command.Exec(context.Background(), bus, deactivateUserCommand{ID: 7})

	require.ErrorIs(t, err, handlerErr, "Ошибка обработчика должна возвращаться без изменений")
}

// Тест ошибки при отправке команды без зарегистрированного обработчика.
func TestBus_Send_NoHandler(t *testing.T) {
	t.Parallel()

	bus := command.NewBus()

	_, err := command.Send[int](context.Background(), bus, orphanCommand{})

	require.Error(t, err, "Выполнение команды без обработчика должно вызывать ошибку")

	var notFound *command.NotFoundError
	require.ErrorAs(t, err, &notFound, "Ошибка должна иметь тип NotFoundError")
	assert.Contains(t, err.Error(), "orphanCommand", "Текст ошибки должен называть конкретный тип команды")
	assert.Contains(t, err.Error(), "CommandHandler[orphanCommand", "Текст ошибки должен называть ожидаемый контракт обработчика")
}

// Тест ошибки при отправке nil вместо команды.
func TestBus_Send_NilCommand(t *testing.T) {
	t.Parallel()

	bus := command.NewBus()

	_, err := command.Send[int](context.Background(), bus, nil)

	require.ErrorIs(t, err, command.ErrNilCommand, "Отправка nil должна возвращать ErrNilCommand")
}

// Тест ошибки при повторной регистрации обработчика.
func TestBus_Register_AlreadyRegistered(t *testing.T) {
	t.Parallel()

	bus := command.NewBus()
	require.NoError(t, command.Register(bus, createUserHandler))

	err := command.Register(bus, createUserHandler)

	var already *command.AlreadyRegisteredError
	require.ErrorAs(t, err, &already, "Повторная регистрация должна возвращать AlreadyRegisteredError")
	assert.Contains(t, err.Error(), "createUserCommand", "Текст ошибки должен называть тип команды")
}

// Тест порядка выполнения поведений: первое добавленное — внешнее.
func TestBus_Behaviors_OnionOrder(t *testing.T) {
	t.Parallel()

	var trace []string

	mark := func(name string) command.Behavior {
		return func(next command.HandlerFunc) command.HandlerFunc {
			return func(ctx context.Context, cmd any) (any, error) {
				trace = append(trace, name+"-before")
				res, err := next(ctx, cmd)
				trace = append(trace, name+"-after")
				return res, err
			}
		}
	}

	bus := command.NewBus(
		command.WithBehavior(mark("first")),
		command.WithBehavior(mark("second")),
	)

	require.NoError(t, command.RegisterVoid(bus, func(ctx context.Context, cmd deactivateUserCommand) error {
		trace = append(trace, "handler")
		return nil
	}))

	require.NoError(t, command.Exec(context.Background(), bus, deactivateUserCommand{ID: 1}))

	expected := []string{"first-before", "second-before", "handler", "second-after", "first-after"}
	assert.Equal(t, expected, trace, "Поведения должны выполняться в порядке добавления")
}

// Тест применения поведения только к командам указанного типа.
func TestBus_BehaviorFor_OnlyMatchingType(t *testing.T) {
	t.Parallel()

	var calls int

	counting := func(next command.HandlerFunc) command.HandlerFunc {
		return func(ctx context.Context, cmd any) (any, error) {
			calls++
			return next(ctx, cmd)
		}
	}

	bus := command.NewBus(
		command.WithBehaviorFor[createUserCommand, int](counting),
	)

	require.NoError(t, command.Register(bus, createUserHandler))
	require.NoError(t, command.RegisterVoid(bus, func(ctx context.Context, cmd deactivateUserCommand) error {
		return nil
	}))

	_, err := command.Send[int](context.Background(), bus, createUserCommand{ID: 1})
	require.NoError(t, err)
	require.NoError(t, command.Exec(context.Background(), bus, deactivateUserCommand{ID: 1}))

	assert.Equal(t, 1, calls, "Поведение должно применяться только к командам своего типа")
}

// Тест времени жизни Transient: фабрика вызывается на каждую отправку.
func TestBus_RegisterFactory_Transient(t *testing.T) {
	t.Parallel()

	bus := command.NewBus(command.WithHandlerLifetime(command.Transient))

	var creations int
	factory := func() command.CommandHandler[createUserCommand, int] {
		creations++
		return createUserHandler
	}

	require.NoError(t, command.RegisterFactory(bus, factory))

	for range 3 {
		_, err := command.Send[int](context.Background(), bus, createUserCommand{ID: 1})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, creations, "Фабрика должна вызываться на каждую отправку")
}

// Тест времени жизни Singleton: фабрика вызывается один раз.
func TestBus_RegisterFactory_Singleton(t *testing.T) {
	t.Parallel()

	bus := command.NewBus(command.WithHandlerLifetime(command.Singleton))

	var creations int
	factory := func() command.CommandHandler[createUserCommand, int] {
		creations++
		return createUserHandler
	}

	require.NoError(t, command.RegisterFactory(bus, factory))

	for range 3 {
		_, err := command.Send[int](context.Background(), bus, createUserCommand{ID: 1})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, creations, "Фабрика должна вызываться ровно один раз")
}

// Тест объявления команды без обработчика.
func TestBus_Declare(t *testing.T) {
	t.Parallel()

	bus := command.NewBus()
	command.Declare[orphanCommand, command.Unit](bus)

	_, err := command.Send[command.Unit](context.Background(), bus, orphanCommand{})
	var notFound *command.NotFoundError
	require.ErrorAs(t, err, &notFound, "Объявленная команда без обработчика должна давать NotFoundError")

	regs := bus.Registrations()
	require.Len(t, regs, 1, "Объявление должно попадать в таблицу регистраций")
	assert.Equal(t, 0, regs[0].Handlers, "Объявление без обработчика должно иметь ноль обработчиков")
}

// Тест конкурентной отправки команд.
func TestBus_Send_Concurrency(t *testing.T) {
	t.Parallel()

	bus := command.NewBus()
	require.NoError(t, command.Register(bus, createUserHandler))

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := command.Send[int](context.Background(), bus, createUserCommand{ID: i})
			assert.NoError(t, err)
			assert.Equal(t, i, id)
		}()
	}
	wg.Wait()
}
