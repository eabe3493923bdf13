package recipients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/metrics"
	"neighborhood-digest/internal/usecase/schedule"
)

var (
	// ErrAllPoolsFailed возвращается, если не удалось прочитать ни один пул подписчиков.
	ErrAllPoolsFailed = errors.New("все пулы подписчиков недоступны")
	// ErrRecipientNotFound возвращается, если адреса нет ни в одном пуле.
	ErrRecipientNotFound = errors.New("получатель не найден")
	// ErrOutsideWindow возвращается, если у получателя сейчас не час рассылки.
	ErrOutsideWindow = errors.New("у получателя сейчас не час рассылки")
)

// Resolution — итог выборки получателей.
type Resolution struct {
	Recipients        []domain.Recipient
	PoolErrors        []error
	DuplicatesDropped int
	InvalidTimezones  int
}

// Resolver выбирает получателей, у которых сейчас наступил час рассылки.
type Resolver struct {
	directory domain.SubscriberDirectory
	defaults  []string
	log       zerolog.Logger
}

// NewResolver создаёт резолвер. defaults подставляются подписчикам без районов.
func NewResolver(directory domain.SubscriberDirectory, defaults []string, logger zerolog.Logger) *Resolver {
	return &Resolver{directory: directory, defaults: cleanIDs(defaults), log: logger}
}

type poolResult struct {
	source      domain.RecipientSource
	subscribers []domain.Subscriber
	err         error
}

// ResolveRecipients читает оба пула параллельно, фильтрует по часу и объединяет.
// Ошибка одного пула не прерывает другой и попадает в PoolErrors.
// Ошибку метод возвращает, только если недоступны оба пула.
func (r *Resolver) ResolveRecipients(ctx context.Context, now time.Time, targetHour int) (Resolution, error) {
	pools := r.loadPools(ctx)

	var (
		res    Resolution
		merr   *multierror.Error
		failed int
		seen   = make(map[string]struct{})
	)
	for _, pool := range pools {
		if pool.err != nil {
			failed++
			wrapped := fmt.Errorf("пул %s: %w", pool.source, pool.err)
			merr = multierror.Append(merr, wrapped)
			res.PoolErrors = append(res.PoolErrors, wrapped)
			r.log.Error().Err(pool.err).Str("pool", string(pool.source)).Msg("recipients: не удалось прочитать пул, продолжаем с остальными")
			continue
		}
		matched := 0
		for _, sub := range pool.subscribers {
			tz, err := schedule.NormalizeTimezone(sub.Timezone)
			if err != nil {
				res.InvalidTimezones++
				continue
			}
			if !schedule.IsLocalHour(now, tz, targetHour) {
				continue
			}
			recipient, ok := r.normalize(sub, pool.source, tz)
			if !ok {
				continue
			}
			key := domain.NormalizeEmail(recipient.Email)
			if _, dup := seen[key]; dup {
				res.DuplicatesDropped++
				continue
			}
			seen[key] = struct{}{}
			res.Recipients = append(res.Recipients, recipient)
			matched++
		}
		metrics.RecipientsResolved.WithLabelValues(string(pool.source)).Add(float64(matched))
	}

	if failed == len(pools) {
		return res, fmt.Errorf("%w: %v", ErrAllPoolsFailed, merr.ErrorOrNil())
	}

	r.log.Info().
		Int("recipients", len(res.Recipients)).
		Int("duplicates", res.DuplicatesDropped).
		Int("invalid_tz", res.InvalidTimezones).
		Int("pool_errors", len(res.PoolErrors)).
		Int("target_hour", targetHour).
		Msg("recipients: выборка завершена")
	return res, nil
}

// BuildTestRecipient находит одного получателя по адресу. При bypass
// проверка локального часа пропускается.
func (r *Resolver) BuildTestRecipient(ctx context.Context, now time.Time, email string, targetHour int, bypass bool) (domain.Recipient, error) {
	key := domain.NormalizeEmail(email)
	if key == "" {
		return domain.Recipient{}, ErrRecipientNotFound
	}
	pools := r.loadPools(ctx)
	var merr *multierror.Error
	for _, pool := range pools {
		if pool.err != nil {
			merr = multierror.Append(merr, fmt.Errorf("пул %s: %w", pool.source, pool.err))
			continue
		}
		for _, sub := range pool.subscribers {
			if domain.NormalizeEmail(sub.Email) != key {
				continue
			}
			tz, err := schedule.NormalizeTimezone(sub.Timezone)
			if err != nil {
				if !bypass {
					return domain.Recipient{}, fmt.Errorf("%w: %s", schedule.ErrInvalidTimezone, sub.Timezone)
				}
				tz = "UTC"
			}
			if !bypass && !schedule.IsLocalHour(now, tz, targetHour) {
				return domain.Recipient{}, ErrOutsideWindow
			}
			recipient, ok := r.normalize(sub, pool.source, tz)
			if !ok {
				return domain.Recipient{}, ErrRecipientNotFound
			}
			return recipient, nil
		}
	}
	if merr != nil && len(merr.Errors) == len(pools) {
		return domain.Recipient{}, fmt.Errorf("%w: %v", ErrAllPoolsFailed, merr.ErrorOrNil())
	}
	return domain.Recipient{}, ErrRecipientNotFound
}

// loadPools читает пулы параллельно. Порядок результата фиксирован:
// зарегистрированные, затем анонимные. При дубликатах побеждает первый.
func (r *Resolver) loadPools(ctx context.Context) []poolResult {
	pools := []poolResult{{source: domain.SourceRegistered}, {source: domain.SourceAnonymous}}
	var g errgroup.Group
	g.Go(func() error {
		pools[0].subscribers, pools[0].err = r.directory.ListRegisteredSubscribers(ctx)
		return nil
	})
	g.Go(func() error {
		pools[1].subscribers, pools[1].err = r.directory.ListAnonymousSubscribers(ctx)
		return nil
	})
	_ = g.Wait()
	return pools
}

func (r *Resolver) normalize(sub domain.Subscriber, source domain.RecipientSource, tz string) (domain.Recipient, bool) {
	email := strings.TrimSpace(sub.Email)
	if email == "" {
		return domain.Recipient{}, false
	}
	ids := cleanIDs(sub.SubscriptionIDs)
	if len(ids) == 0 {
		ids = append([]string(nil), r.defaults...)
	}
	if len(ids) == 0 {
		r.log.Warn().Str("subscriber", sub.ID).Msg("recipients: нет подписок и районов по умолчанию, пропускаем")
		return domain.Recipient{}, false
	}
	paused := make(map[string]struct{}, len(sub.PausedTopics))
	for _, topic := range sub.PausedTopics {
		if normalized := domain.NormalizeTopic(topic); normalized != "" {
			paused[normalized] = struct{}{}
		}
	}
	return domain.Recipient{
		ID:                        sub.ID,
		Email:                     email,
		Source:                    source,
		Timezone:                  tz,
		PrimaryNeighborhoodID:     ids[0],
		SubscribedNeighborhoodIDs: ids,
		UnsubscribeToken:          sub.UnsubscribeToken,
		PausedTopics:              paused,
	}, true
}

// cleanIDs убирает пустые значения и повторы, сохраняя порядок.
func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
