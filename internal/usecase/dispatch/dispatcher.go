package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/metrics"
)

// ErrSkip возвращается из SendFunc, чтобы пропустить получателя без попытки отправки.
var ErrSkip = errors.New("dispatch: recipient skipped")

// SendFunc отправляет письмо одному получателю.
type SendFunc func(ctx context.Context, r domain.Recipient) error

// Result — итог отправки пачки. Sent+Failed+Skipped всегда равно числу получателей.
type Result struct {
	Sent    int
	Failed  int
	Skipped int
	Errors  []string
}

// Dispatcher отправляет письма строго последовательно с паузой между попытками.
type Dispatcher struct {
	log   zerolog.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher создаёт диспетчер.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{log: logger, sleep: sleepCtx}
}

// Dispatch отправляет не более maxBatch писем (maxBatch <= 0 — без ограничения).
// Получатели сверх лимита считаются пропущенными и не отправляются: их подберёт
// следующий запуск, если у них снова совпадёт местный час. Ошибка или паника
// send засчитывается как failed и не останавливает пачку. После отмены ctx
// оставшиеся получатели считаются пропущенными.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []domain.Recipient, send SendFunc, maxBatch int, delay time.Duration) Result {
	var res Result
	batch := recipients
	if maxBatch > 0 && len(batch) > maxBatch {
		res.Skipped = len(batch) - maxBatch
		batch = batch[:maxBatch]
		d.log.Warn().Int("overflow", res.Skipped).Int("max_batch", maxBatch).Msg("dispatch: пачка обрезана")
	}

	for i, r := range batch {
		remaining := len(batch) - i
		if ctx.Err() != nil {
			res.Skipped += remaining
			break
		}

		err := safeSend(ctx, r, send)
		switch {
		case err == nil:
			res.Sent++
			metrics.DigestSendsTotal.WithLabelValues("sent").Inc()
		case errors.Is(err, ErrSkip):
			res.Skipped++
			metrics.DigestSendsTotal.WithLabelValues("skipped").Inc()
			continue
		default:
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", r.Email, err))
			metrics.DigestSendsTotal.WithLabelValues("failed").Inc()
			d.log.Warn().Err(err).Str("recipient", r.ID).Msg("dispatch: отправка не удалась")
		}

		if remaining > 1 && delay > 0 {
			if err := d.sleep(ctx, delay); err != nil {
				res.Skipped += remaining - 1
				break
			}
		}
	}
	return res
}

func safeSend(ctx context.Context, r domain.Recipient, send SendFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return send(ctx, r)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
