package notification_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/mediator/bus/notification"
)

// Тестовый интерфейс уведомлений предметной области.
type domainEvent interface {
	EventName() string
}

// Тестовое уведомление, реализующее domainEvent.
type userCreated struct {
	ID    int
	Email string
}

func (e userCreated) EventName() string { return "user.created" }

// Тестовое уведомление без интерфейсной родословной.
type orderPlaced struct {
	ID int
}

// Тест полиморфной доставки: подписчики конкретного типа и интерфейса
// получают одно и то же уведомление, конкретный тип первым.
func TestBus_Publish_Polymorphic(t *testing.T) {
	t.Parallel()

	bus := notification.NewBus()

	var order []string
	_, err := notification.Subscribe(bus, func(ctx context.Context, n userCreated) error {
		order = append(order, "concrete")
		return nil
	})
	require.NoError(t, err)

	_, err = notification.Subscribe(bus, func(ctx context.Context, n domainEvent) error {
		order = append(order, "interface:"+n.EventName())
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), userCreated{ID: 1, Email: "john@example.com"}))

	assert.Equal(t, []string{"concrete", "interface:user.created"}, order,
		"Уведомление должно доставляться подписчикам конкретного типа и интерфейса, конкретный тип первым")
}

// Тест доставки только по точному типу: уведомление без интерфейсной
// родословной не попадает к интерфейсным подписчикам.
func TestBus_Publish_ExactTypeOnly(t *testing.T) {
	t.Parallel()

	bus := notification.NewBus()

	var concrete, viaInterface int
	_, err := notification.Subscribe(bus, func(ctx context.Context, n orderPlaced) error {
		concrete++
		return nil
	})
	require.NoError(t, err)

	_, err = notification.Subscribe(bus, func(ctx context.Context, n domainEvent) error {
		viaInterface++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), orderPlaced{ID: 1}))

	assert.Equal(t, 1, concrete, "Подписчик конкретного типа должен получить уведомление")
	assert.Equal(t, 0, viaInterface, "Интерфейсный подписчик не должен получать уведомление чужого типа")
}

// Тест публикации без подписчиков: не ошибка.
func TestBus_Publish_NoSubscribers(t *testing.T) {
	t.Parallel()

	bus := notification.NewBus()

	require.NoError(t, bus.Publish(context.Background(), orderPlaced{ID: 1}),
		"Публикация без подписчиков не должна вызывать ошибку")
}

// Тест ошибки при публикации nil вместо уведомления.
func TestBus_Publish_NilNotification(t *testing.T) {
	t.Parallel()

	bus := notification.NewBus()

	err := bus.Publish(context.Background(), nil)

	require.ErrorIs(t, err, notification.ErrNilNotification, "Публикация nil должна возвращать ErrNilNotification")
}

// Тест стратегии StopOnFirstError: первая ошибка останавливает доставку
// и возвращается без изменений.
// Тест отказа в подписке по пустому интерфейсу: такой ключ исключен из
// разрешения получателей и подписка никогда не получила бы уведомлений.
func TestBus_Subscribe_EmptyInterfaceKey(t *testing.T) {
	t.Parallel()

	bus := notification.NewBus()

	unsubscribe, err := notification.Subscribe(bus, func(ctx context.Context, n notification.Notification) error {
		return nil
	})

	require.Error(t, err, "Подписка по пустому интерфейсу должна отклоняться")
	assert.Nil(t, unsubscribe)
	assert.Contains(t, err.Error(), "пустым интерфейсом")

	regs := bus.Registrations()
	assert.Empty(t, regs, "Отклоненная подписка не должна попадать в таблицу регистраций")
}

func TestBus_Publish_StopOnFirstError(t *testing.T) {
	t.Parallel()

	bus := notification.NewBus(notification.WithPublishStrategy(notification.StopOnFirstError))
	failErr := errors.New("подписчик упал")

	var calls int
	subscribe := func(fail bool) {
		_, err := notification.Subscribe(bus, func(ctx context.Context, n userCreated) error {
			calls++
			if fail {
				return failErr
			}
			return nil
		})
		require.NoError(t, err)
	}

	subscribe(false)
	subscribe(true)
	subscribe(false)

	err := bus.Publish(context.Background(), userCreated{ID: 1})

	require.ErrorIs(t, err, failErr, "Первая ошибка должна возвращаться без изменений")
	assert.Equal(t, 2, calls, "Доставка должна остановиться на первом упавшем подписчике")
}

// Тест стратегии ContinueOnError: доставка всем, ошибки собираются
// в порядке возникновения.
func TestBus_Publish_ContinueOnError(t *testing.T) {
	t.Parallel()

	bus := notification.NewBus(notification.WithPublishStrategy(notification.ContinueOnError))
	firstErr := errors.New("первая ошибка")
	secondErr := errors.New("вторая ошибка")

	var calls int
	subscribe := func(fail error) {
		_, err := notification.Subscribe(bus, func(ctx context.Context, n userCreated) error {
			calls++
			return fail
		})
		require.NoError(t, err)
	}

	subscribe(firstErr)
	subscribe(nil)
	subscribe(secondErr)

	err := bus.Publish(context.Background(), userCreated{ID: 1})

	assert.Equal(t, 3, calls, "Все подписчики должны быть вызваны")

	var agg *notification.AggregateError
	require.ErrorAs(t, err, &agg, "Ошибка должна иметь тип AggregateError")
	assert.Equal(t, []error{firstErr, secondErr}, agg.Errs, "Ошибки должны собираться в порядке возникновения")
	assert.ErrorIs(t, err, firstErr)
	assert.ErrorIs(t, err, secondErr)
}

// Тест стратегии ParallelWhenAll: подписчики выполняются параллельно,
// ошибки всех собираются в AggregateError.
func TestBus_Publish_ParallelWhenAll(t *testing.T) {
	t.Parallel()

	bus := notification.NewBus(notification.WithPublishStrategy(notification.ParallelWhenAll))

	for range 3 {
		_, err := notification.Subscribe(bus, func(ctx context.Context, n userCreated) error {
			time.Sleep(30 * time.Millisecond)
			return errors.New("подписчик упал")
		})
		require.NoError(t, err)
	}

	start := time.Now()
	err := bus.Publish(context.Background(), userCreated{ID: 1})
	elapsed := time.Since(start)

	var agg *notification.AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errs, 3, "Ошибки всех подписчиков должны быть собраны")
	assert.Less(t, elapsed, 90*time.Millisecond, "Подписчики должны выполняться параллельно, а не последовательно")
}

// Тест стратегии ParallelNoWait: Publish возвращается до завершения
// обработчиков, Shutdown дожидается принятых задач.
func TestBus_Publish_ParallelNoWait(t *testing.T) {
	t.Parallel()

	bus := notification.NewBus(notification.WithPublishStrategy(notification.ParallelNoWait))

	release := make(chan struct{})
	var handled atomic.Int32
	_, err := notification.Subscribe(bus, func(ctx context.Context, n userCreated) error {
		<-release
		handled.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), userCreated{ID: 1}))
	assert.Equal(t, int32(0), handled.Load(), "Publish должен возвращаться до завершения обработчика")

	close(release)
	require.NoError(t, bus.Shutdown(context.Background()))
	assert.Equal(t, int32(1), handled.Load(), "Shutdown должен дождаться принятых задач")
}

// Тест обработчика ошибок подписки для стратегии ParallelNoWait.
func TestBus_Publish_ParallelNoWait_ErrorHandler(t *testing.T) {
	t.Parallel()

	bus := notification.NewBus(notification.WithPublishStrategy(notification.ParallelNoWait))
	failErr := errors.New("подписчик упал")

	var mu sync.Mutex
	var caught []error
	_, err := notification.Subscribe(bus,
		func(ctx context.Context, n userCreated) error {
			return failErr
		},
		notification.WithErrorHandler(func(err error, n userCreated) {
			mu.Lock()
			defer mu.Unlock()
			caught = append(caught, err)
		}),
	)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), userCreated{ID: 1}))
	require.NoError(t, bus.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, caught, 1, "Ошибка подписчика должна поступить в ErrorHandler")
	assert.ErrorIs(t, caught[0], failErr)
}

// Тест переопределения стратегии на один вызов Publish: конфигурация шины
// не изменяется.
func TestBus_Publish_StrategyOverride(t *testing.T) {
	t.Parallel()

	bus := notification.NewBus(notification.WithPublishStrategy(notification.StopOnFirstError))
	firstErr := errors.New("первая ошибка")
	secondErr := errors.New("вторая ошибка")

	_, err := notification.Subscribe(bus, func(ctx context.Context, n userCreated) error {
		return firstErr
	})
	require.NoError(t, err)
	_, err = notification.Subscribe(bus, func(ctx context.Context, n userCreated) error {
		return secondErr
	})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), userCreated{ID: 1}, notification.WithStrategy(notification.ContinueOnError))
	var agg *notification.AggregateError
	require.ErrorAs(t, err, &agg, "Переопределенная стратегия должна собирать все ошибки")
	assert.Len(t, agg.Errs, 2)

	err = bus.Publish(context.Background(), userCreated{ID: 1})
	require.ErrorIs(t, err, firstErr, "Следующий вызов должен снова использовать стратегию шины")
	assert.NotErrorIs(t, err, secondErr)
}

// Тест отписки: после вызова функции отписки подписчик не получает уведомления.
func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	bus := notification.NewBus()

	var calls int
	unsubscribe, err := notification.Subscribe(bus, func(ctx context.Context, n userCreated) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), userCreated{ID: 1}))
	unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), userCreated{ID: 2}))

	assert.Equal(t, 1, calls, "После отписки подписчик не должен получать уведомления")
}

// Тест поведений: цепочка оборачивает каждую пару (обработчик, уведомление).
func TestBus_Behaviors_PerDelivery(t *testing.T) {
	t.Parallel()

	var wrapped int
	counting := func(next notification.HandlerFunc) notification.HandlerFunc {
		return func(ctx context.Context, n any) error {
			wrapped++
			return next(ctx, n)
		}
	}

	bus := notification.NewBus(notification.WithBehavior(counting))

	for range 2 {
		_, err := notification.Subscribe(bus, func(ctx context.Context, n userCreated) error {
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, bus.Publish(context.Background(), userCreated{ID: 1}))

	assert.Equal(t, 2, wrapped, "Поведение должно оборачивать каждую доставку по отдельности")
}

// Бенчмарк веерной доставки одного уведомления десяти подписчикам.
func BenchmarkBus_Publish_FanOut(b *testing.B) {
	bus := notification.NewBus()

	for range 10 {
		_, err := notification.Subscribe(bus, func(ctx context.Context, n userCreated) error {
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}

	ctx := context.Background()
	n := userCreated{ID: 1}

	b.ResetTimer()
	for range b.N {
		if err := bus.Publish(ctx, n); err != nil {
			b.Fatal(err)
		}
	}
}
