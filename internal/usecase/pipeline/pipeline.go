package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/metrics"
	"neighborhood-digest/internal/infra/sidechannel"
	"neighborhood-digest/internal/usecase/digest"
	"neighborhood-digest/internal/usecase/dispatch"
	"neighborhood-digest/internal/usecase/recipients"
)

// ErrTransportRejected возвращается, если транспорт не принял письмо.
var ErrTransportRejected = errors.New("transport rejected message")

// RecipientResolver выбирает получателей запуска.
type RecipientResolver interface {
	ResolveRecipients(ctx context.Context, now time.Time, targetHour int) (recipients.Resolution, error)
	BuildTestRecipient(ctx context.Context, now time.Time, email string, targetHour int, bypass bool) (domain.Recipient, error)
}

// Assembler собирает дайджест одного получателя.
type Assembler interface {
	AssembleDigest(ctx context.Context, r domain.Recipient, now time.Time) (domain.DigestContent, error)
}

// Recorder сохраняет итог запуска.
type Recorder interface {
	Record(jobName string, result domain.RunResult)
}

// Config — параметры конвейера.
type Config struct {
	MaxBatch    int
	SendDelay   time.Duration
	Concurrency int
	// SkipWithoutPrimary: не отправлять письмо, если у основного района нет свежего выпуска.
	SkipWithoutPrimary bool
}

// Deps — зависимости конвейера. Publisher и Alerter необязательны.
type Deps struct {
	Resolver   RecipientResolver
	Assembler  Assembler
	Renderer   *digest.Renderer
	Transport  domain.Transport
	Dispatcher *dispatch.Dispatcher
	Recorder   Recorder
	SideTasks  *sidechannel.Runner
	Publisher  domain.EventPublisher
	Alerter    domain.OperatorAlerter
}

// Preview — результат пробного запуска для одного получателя.
type Preview struct {
	Recipient domain.Recipient     `json:"recipient"`
	Subject   string               `json:"subject,omitempty"`
	Content   domain.DigestContent `json:"content"`
	Error     string               `json:"error,omitempty"`
}

// RunReport — ответ на запуск. Previews заполняется только в пробном режиме.
type RunReport struct {
	Result   domain.RunResult `json:"result"`
	Previews []Preview        `json:"previews,omitempty"`
}

// Pipeline проводит запуск через состояния: выборка → сборка → отправка → журнал.
// Возврата к предыдущему состоянию и повторов внутри запуска нет.
type Pipeline struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger
	now  func() time.Time
}

// New создаёт конвейер.
func New(deps Deps, cfg Config, logger zerolog.Logger) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Pipeline{deps: deps, cfg: cfg, log: logger, now: time.Now}
}

type assembly struct {
	recipient domain.Recipient
	content   domain.DigestContent
	err       error
}

// Run выполняет один запуск. Ошибка возвращается только при системном сбое
// выборки получателей; журнал записывается в любом случае.
func (p *Pipeline) Run(ctx context.Context, req domain.RunRequest) (RunReport, error) {
	now := p.now().UTC()
	res := domain.RunResult{RunID: uuid.NewString(), StartedAt: now, Request: req}
	logger := p.log.With().Str("run_id", res.RunID).Int("target_hour", req.TargetHour).Bool("dry_run", req.DryRun).Logger()

	list, err := p.resolve(ctx, now, req, &res)
	if err != nil {
		res.Success = false
		res.Errors = []string{err.Error()}
		logger.Error().Err(err).Msg("pipeline: системный сбой выборки получателей")
		res = p.finish(res)
		return RunReport{Result: res}, err
	}
	res.RecipientsFound = len(list)

	batch := list
	if !req.DryRun && p.cfg.MaxBatch > 0 && len(batch) > p.cfg.MaxBatch {
		batch = batch[:p.cfg.MaxBatch]
	}
	assembled := p.assemble(ctx, batch, now)
	for _, a := range assembled {
		if a.err == nil {
			res.Assembled++
		}
	}

	var report RunReport
	if req.DryRun {
		report.Previews = p.previews(assembled, now)
		for _, a := range assembled {
			if a.err != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", a.recipient.Email, a.err))
			}
		}
		res.Success = !(res.Failed > 0 && res.Assembled == 0)
	} else {
		out := p.deps.Dispatcher.Dispatch(ctx, list, p.sender(assembled, now), p.cfg.MaxBatch, p.cfg.SendDelay)
		res.Sent, res.Failed, res.Skipped = out.Sent, out.Failed, out.Skipped
		res.Errors = out.Errors
		res.Success = !(res.Failed > 0 && res.Sent == 0)
	}

	logger.Info().
		Int("recipients", res.RecipientsFound).
		Int("assembled", res.Assembled).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Bool("success", res.Success).
		Msg("pipeline: запуск завершён")

	report.Result = p.finish(res)
	return report, nil
}

func (p *Pipeline) resolve(ctx context.Context, now time.Time, req domain.RunRequest, res *domain.RunResult) ([]domain.Recipient, error) {
	if email := strings.TrimSpace(req.ForceRecipient); email != "" {
		r, err := p.deps.Resolver.BuildTestRecipient(ctx, now, email, req.TargetHour, req.BypassTimezone)
		if err != nil {
			return nil, fmt.Errorf("тестовый получатель: %w", err)
		}
		return []domain.Recipient{r}, nil
	}
	resolution, err := p.deps.Resolver.ResolveRecipients(ctx, now, req.TargetHour)
	for _, poolErr := range resolution.PoolErrors {
		res.PoolErrors = append(res.PoolErrors, poolErr.Error())
	}
	res.DuplicatesDropped = resolution.DuplicatesDropped
	if err != nil {
		return nil, fmt.Errorf("выборка получателей: %w", err)
	}
	return resolution.Recipients, nil
}

// assemble собирает дайджесты параллельно. Порядок результата совпадает с batch.
func (p *Pipeline) assemble(ctx context.Context, batch []domain.Recipient, now time.Time) []assembly {
	out := make([]assembly, len(batch))
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, r := range batch {
		i, r := i, r
		g.Go(func() error {
			content, err := p.deps.Assembler.AssembleDigest(ctx, r, now)
			out[i] = assembly{recipient: r, content: content, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Pipeline) previews(assembled []assembly, now time.Time) []Preview {
	previews := make([]Preview, 0, len(assembled))
	for _, a := range assembled {
		pv := Preview{Recipient: a.recipient, Content: a.content}
		if a.err != nil {
			pv.Error = a.err.Error()
		} else if p.deps.Renderer != nil {
			pv.Subject = p.deps.Renderer.Subject(a.recipient, a.content, now)
		}
		previews = append(previews, pv)
	}
	return previews
}

func (p *Pipeline) sender(assembled []assembly, now time.Time) dispatch.SendFunc {
	byEmail := make(map[string]assembly, len(assembled))
	for _, a := range assembled {
		byEmail[domain.NormalizeEmail(a.recipient.Email)] = a
	}
	return func(ctx context.Context, r domain.Recipient) error {
		a, ok := byEmail[domain.NormalizeEmail(r.Email)]
		if !ok {
			return dispatch.ErrSkip
		}
		if a.err != nil {
			return fmt.Errorf("сборка: %w", a.err)
		}
		if a.content.IsEmpty() {
			return fmt.Errorf("пустой дайджест: %w", dispatch.ErrSkip)
		}
		if a.content.Primary == nil && p.cfg.SkipWithoutPrimary {
			return fmt.Errorf("нет выпуска основного района: %w", dispatch.ErrSkip)
		}
		rendered := p.deps.Renderer.Render(r, a.content, now)
		ok, err := p.deps.Transport.Send(ctx, r.Email, rendered.Subject, rendered.HTML)
		if err != nil {
			return fmt.Errorf("отправка: %w", err)
		}
		if !ok {
			return ErrTransportRejected
		}
		return nil
	}
}

// finish пишет журнал и запускает фоновые уведомления. Ни одно из этих
// действий не влияет на результат запуска.
func (p *Pipeline) finish(res domain.RunResult) domain.RunResult {
	res.CompletedAt = p.now().UTC()
	metrics.ObserveRun(res.Request.DryRun, res.Success, res.StartedAt)
	if p.deps.Recorder != nil {
		p.deps.Recorder.Record(domain.JobDailyDigest, res)
	}
	if p.deps.SideTasks == nil {
		return res
	}
	if p.deps.Publisher != nil {
		event := domain.RunEvent{
			RunID:       res.RunID,
			JobName:     domain.JobDailyDigest,
			Success:     res.Success,
			DryRun:      res.Request.DryRun,
			TargetHour:  res.Request.TargetHour,
			Sent:        res.Sent,
			Failed:      res.Failed,
			Skipped:     res.Skipped,
			CompletedAt: res.CompletedAt,
		}
		p.deps.SideTasks.Go("publish_run_event", func(ctx context.Context) error {
			return p.deps.Publisher.Publish(ctx, event)
		})
	}
	if p.deps.Alerter != nil && !res.Success {
		text := alertText(res)
		p.deps.SideTasks.Go("operator_alert", func(ctx context.Context) error {
			return p.deps.Alerter.Alert(ctx, text)
		})
	}
	return res
}

func alertText(res domain.RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digest run %s failed (target hour %d)\n", res.RunID, res.Request.TargetHour)
	fmt.Fprintf(&b, "recipients=%d sent=%d failed=%d skipped=%d\n", res.RecipientsFound, res.Sent, res.Failed, res.Skipped)
	if len(res.Errors) > 0 {
		b.WriteString("first error: " + res.Errors[0])
	}
	return strings.TrimSpace(b.String())
}
