package notification

import (
	"context"
	"log/slog"
	"sync"
)

// task представляет собой атомарную задачу для асинхронного выполнения:
// уведомление и соответствующая ему пара доставки.
type task struct {
	ctx          context.Context
	notification any
	delivery     *delivery
}

// workerPool — это пул горутин для стратегии ParallelNoWait.
type workerPool struct {
	minWorkers int
	maxWorkers int
	tasks      chan task
	wg         sync.WaitGroup
	stopCh     chan struct{}
	stopOnce   sync.Once
	logger     *slog.Logger
}

// newWorkerPool создает новый пул воркеров.
func newWorkerPool(minWorkers, maxWorkers, queueSize int, logger *slog.Logger) *workerPool {
	if minWorkers < 1 {
		minWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	return &workerPool{
		minWorkers: minWorkers,
		maxWorkers: maxWorkers,
		tasks:      make(chan task, queueSize),
		stopCh:     make(chan struct{}),
		logger:     logger,
	}
}

// start запускает воркеров пула.
func (p *workerPool) start() {
	for range p.minWorkers {
		p.wg.Add(1)
		go p.worker()
	}
}

// stop останавливает прием задач, дочитывает очередь и дожидается воркеров.
func (p *workerPool) stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}

// submit добавляет задачу в очередь без блокировки. Возвращает false,
// если пул остановлен или очередь заполнена.
func (p *workerPool) submit(t task) bool {
	select {
	case <-p.stopCh:
		return false
	default:
	}

	select {
	case p.tasks <- t:
		return true
	default:
		return false
	}
}

// worker — это основная функция горутины-воркера. После сигнала остановки
// воркер дочитывает очередь до конца и завершается.
func (p *workerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.tasks:
			p.process(t)
		case <-p.stopCh:
			for {
				select {
				case t := <-p.tasks:
					p.process(t)
				default:
					return
				}
			}
		}
	}
}

// process выполняет одну задачу. Ошибка подписчика поступает в его
// ErrorHandler, а при его отсутствии в логгер пула.
func (p *workerPool) process(t task) {
	err := t.delivery.chain(t.ctx, t.notification)
	if err == nil {
		return
	}

	if t.delivery.sub.errorHandler != nil {
		t.delivery.sub.errorHandler(err, t.notification)
		return
	}

	if p.logger != nil {
		p.logger.Error("ошибка асинхронной обработки уведомления",
			slog.String("subscriber", t.delivery.sub.name),
			slog.Any("error", err),
		)
	}
}
