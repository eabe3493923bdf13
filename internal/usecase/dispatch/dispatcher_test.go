package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"neighborhood-digest/internal/domain"
)

func makeRecipients(n int) []domain.Recipient {
	out := make([]domain.Recipient, n)
	for i := range out {
		out[i] = domain.Recipient{ID: fmt.Sprintf("r%d", i), Email: fmt.Sprintf("user%d@example.com", i)}
	}
	return out
}

func newTestDispatcher(sleeps *[]time.Duration) *Dispatcher {
	d := NewDispatcher(zerolog.Nop())
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		*sleeps = append(*sleeps, dur)
		return ctx.Err()
	}
	return d
}

func TestDispatchCapsBatch(t *testing.T) {
	var sleeps []time.Duration
	d := newTestDispatcher(&sleeps)
	var attempted []string
	send := func(_ context.Context, r domain.Recipient) error {
		attempted = append(attempted, r.ID)
		return nil
	}

	res := d.Dispatch(context.Background(), makeRecipients(5), send, 3, 100*time.Millisecond)
	if res.Sent != 3 || res.Skipped != 2 || res.Failed != 0 {
		t.Fatalf("неожиданный итог: %+v", res)
	}
	if len(attempted) != 3 || attempted[2] != "r2" {
		t.Fatalf("отправлены не первые три получателя: %v", attempted)
	}
	if len(sleeps) != 2 {
		t.Fatalf("пауза нужна после каждой попытки, кроме последней: %v", sleeps)
	}
}

func TestDispatchFailuresDoNotStopBatch(t *testing.T) {
	var sleeps []time.Duration
	d := newTestDispatcher(&sleeps)
	send := func(_ context.Context, r domain.Recipient) error {
		switch r.ID {
		case "r1":
			return errors.New("mailbox full")
		case "r2":
			panic("transport exploded")
		case "r3":
			return fmt.Errorf("no primary: %w", ErrSkip)
		}
		return nil
	}

	res := d.Dispatch(context.Background(), makeRecipients(5), send, 0, time.Millisecond)
	if res.Sent != 2 || res.Failed != 2 || res.Skipped != 1 {
		t.Fatalf("неожиданный итог: %+v", res)
	}
	if len(res.Errors) != 2 || res.Errors[0] != "user1@example.com: mailbox full" {
		t.Fatalf("неожиданные ошибки: %v", res.Errors)
	}
	if !strings.Contains(res.Errors[1], "transport exploded") {
		t.Fatalf("паника должна попасть в ошибки: %v", res.Errors)
	}
	// r0, r1, r2 — попытки с паузой; r3 пропущен без паузы; r4 последний.
	if len(sleeps) != 3 {
		t.Fatalf("ожидали 3 паузы, получили %d", len(sleeps))
	}
}

func TestDispatchCancelledContextSkipsRest(t *testing.T) {
	var sleeps []time.Duration
	d := newTestDispatcher(&sleeps)
	ctx, cancel := context.WithCancel(context.Background())
	send := func(_ context.Context, r domain.Recipient) error {
		if r.ID == "r1" {
			cancel()
		}
		return nil
	}

	res := d.Dispatch(ctx, makeRecipients(6), send, 4, time.Second)
	if res.Sent != 2 || res.Skipped != 4 {
		t.Fatalf("неожиданный итог: %+v", res)
	}
}

func TestDispatchInvariant(t *testing.T) {
	var sleeps []time.Duration
	d := newTestDispatcher(&sleeps)
	for n := 0; n <= 12; n++ {
		for maxBatch := -1; maxBatch <= 14; maxBatch++ {
			sends := 0
			send := func(_ context.Context, r domain.Recipient) error {
				sends++
				switch len(r.ID) % 3 {
				case 0:
					return errors.New("fail")
				case 1:
					return ErrSkip
				}
				return nil
			}
			res := d.Dispatch(context.Background(), makeRecipients(n), send, maxBatch, 0)
			if res.Sent+res.Failed+res.Skipped != n {
				t.Fatalf("n=%d max=%d: нарушен баланс %+v", n, maxBatch, res)
			}
			if maxBatch > 0 && sends > maxBatch {
				t.Fatalf("n=%d max=%d: попыток больше лимита: %d", n, maxBatch, sends)
			}
		}
	}
	if len(sleeps) != 0 {
		t.Fatalf("при нулевой задержке паузы не нужны")
	}
}

func TestSleepCtxHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидали context.Canceled, получили %v", err)
	}
}
