package sidechannel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"neighborhood-digest/internal/infra/metrics"
)

// Task — фоновая операция с собственным таймаутом.
type Task func(ctx context.Context) error

// Runner выполняет задачи «по возможности»: Go ничего не возвращает,
// поэтому ошибка задачи не может повлиять на результат вызывающего кода.
type Runner struct {
	log     zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewRunner создаёт раннер. timeout ограничивает каждую задачу.
func NewRunner(logger zerolog.Logger, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Runner{log: logger, timeout: timeout}
}

// Go запускает задачу в отдельной горутине. Контекст задачи не зависит
// от контекста запуска: отмена рассылки не обрывает запись журнала.
func (r *Runner) Go(name string, task Task) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := safeRun(ctx, task); err != nil {
			metrics.SideChannelErrors.WithLabelValues(name).Inc()
			r.log.Error().Err(err).Str("task", name).Msg("sidechannel: задача завершилась ошибкой")
		}
	}()
}

// Wait дожидается завершения запущенных задач или отмены ctx.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return task(ctx)
}
