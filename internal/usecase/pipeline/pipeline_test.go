package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/sidechannel"
	"neighborhood-digest/internal/usecase/digest"
	"neighborhood-digest/internal/usecase/dispatch"
	"neighborhood-digest/internal/usecase/recipients"
)

type stubResolver struct {
	resolution recipients.Resolution
	err        error
	forced     domain.Recipient
	forcedErr  error
	bypass     bool
}

func (s *stubResolver) ResolveRecipients(context.Context, time.Time, int) (recipients.Resolution, error) {
	return s.resolution, s.err
}

func (s *stubResolver) BuildTestRecipient(_ context.Context, _ time.Time, _ string, _ int, bypass bool) (domain.Recipient, error) {
	s.bypass = bypass
	return s.forced, s.forcedErr
}

type stubAssembler struct {
	mu       sync.Mutex
	contents map[string]domain.DigestContent
	errs     map[string]error
	calls    int
}

func (s *stubAssembler) AssembleDigest(_ context.Context, r domain.Recipient, _ time.Time) (domain.DigestContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.errs[r.ID]; err != nil {
		return domain.DigestContent{}, err
	}
	return s.contents[r.ID], nil
}

type stubTransport struct {
	mu       sync.Mutex
	sent     []string
	subjects []string
	reject   map[string]bool
}

func (s *stubTransport) Send(_ context.Context, email, subject, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject[email] {
		return false, nil
	}
	s.sent = append(s.sent, email)
	s.subjects = append(s.subjects, subject)
	return true, nil
}

type memRecorder struct {
	mu      sync.Mutex
	results []domain.RunResult
}

func (m *memRecorder) Record(_ string, res domain.RunResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
}

type memPublisher struct {
	mu     sync.Mutex
	events []domain.RunEvent
}

func (m *memPublisher) Publish(_ context.Context, e domain.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

type memAlerter struct {
	mu    sync.Mutex
	texts []string
}

func (m *memAlerter) Alert(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return nil
}

type harness struct {
	resolver  *stubResolver
	assembler *stubAssembler
	transport *stubTransport
	recorder  *memRecorder
	publisher *memPublisher
	alerter   *memAlerter
	runner    *sidechannel.Runner
}

func newHarness(list ...domain.Recipient) *harness {
	return &harness{
		resolver:  &stubResolver{resolution: recipients.Resolution{Recipients: list}},
		assembler: &stubAssembler{contents: map[string]domain.DigestContent{}, errs: map[string]error{}},
		transport: &stubTransport{reject: map[string]bool{}},
		recorder:  &memRecorder{},
		publisher: &memPublisher{},
		alerter:   &memAlerter{},
		runner:    sidechannel.NewRunner(zerolog.Nop(), time.Second),
	}
}

func (h *harness) pipeline(cfg Config) *Pipeline {
	p := New(Deps{
		Resolver:   h.resolver,
		Assembler:  h.assembler,
		Renderer:   digest.NewRenderer("https://example.com/unsubscribe"),
		Transport:  h.transport,
		Dispatcher: dispatch.NewDispatcher(zerolog.Nop()),
		Recorder:   h.recorder,
		SideTasks:  h.runner,
		Publisher:  h.publisher,
		Alerter:    h.alerter,
	}, cfg, zerolog.Nop())
	p.now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }
	return p
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.runner.Wait(ctx); err != nil {
		t.Fatalf("фоновые задачи не завершились: %v", err)
	}
}

func rcpt(id string) domain.Recipient {
	return domain.Recipient{ID: id, Email: id + "@example.com", Timezone: "America/New_York", PrimaryNeighborhoodID: "A", SubscribedNeighborhoodIDs: []string{"A", "B"}}
}

func section(id string) domain.Section {
	return domain.Section{NeighborhoodID: id, NeighborhoodName: "Hood " + id, Stories: []domain.Story{{ID: id + "1", Headline: "News"}}}
}

func full() domain.DigestContent {
	primary := section("A")
	return domain.DigestContent{Primary: &primary, Satellites: []domain.Section{section("B")}}
}

func TestRunMissingPrimaryPolicies(t *testing.T) {
	satelliteOnly := domain.DigestContent{Satellites: []domain.Section{section("B")}}

	t.Run("send without primary", func(t *testing.T) {
		h := newHarness(rcpt("r1"))
		h.assembler.contents["r1"] = satelliteOnly
		report, err := h.pipeline(Config{SkipWithoutPrimary: false}).Run(context.Background(), domain.RunRequest{TargetHour: 7})
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if report.Result.Sent != 1 || len(h.transport.sent) != 1 {
			t.Fatalf("ожидали отправку без основного района: %+v", report.Result)
		}
		if !strings.HasPrefix(h.transport.subjects[0], "Hood B Daily Brief") {
			t.Fatalf("тема должна брать имя спутника: %q", h.transport.subjects[0])
		}
	})

	t.Run("skip without primary", func(t *testing.T) {
		h := newHarness(rcpt("r1"))
		h.assembler.contents["r1"] = satelliteOnly
		report, err := h.pipeline(Config{SkipWithoutPrimary: true}).Run(context.Background(), domain.RunRequest{TargetHour: 7})
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		res := report.Result
		if res.Sent != 0 || res.Skipped != 1 || res.Failed != 0 || len(h.transport.sent) != 0 {
			t.Fatalf("ожидали пропуск без попытки отправки: %+v", res)
		}
		if !res.Success {
			t.Fatalf("пропуск не делает запуск неуспешным")
		}
	})
}

func TestRunSystemicFailureIsRecorded(t *testing.T) {
	h := newHarness()
	h.resolver.err = recipients.ErrAllPoolsFailed
	h.resolver.resolution.PoolErrors = []error{errors.New("registered down"), errors.New("anonymous down")}

	report, err := h.pipeline(Config{}).Run(context.Background(), domain.RunRequest{TargetHour: 7})
	if !errors.Is(err, recipients.ErrAllPoolsFailed) {
		t.Fatalf("ожидали системную ошибку, получили %v", err)
	}
	h.wait(t)

	if len(h.recorder.results) != 1 {
		t.Fatalf("журнал должен быть записан даже при сбое")
	}
	rec := h.recorder.results[0]
	if rec.Success || len(rec.Errors) != 1 || rec.Errors[0] != err.Error() {
		t.Fatalf("неожиданная запись журнала: %+v", rec)
	}
	if len(rec.PoolErrors) != 2 {
		t.Fatalf("ошибки пулов должны попасть в журнал: %v", rec.PoolErrors)
	}
	if report.Result.CompletedAt.IsZero() {
		t.Fatalf("ожидали время завершения")
	}
	if len(h.alerter.texts) != 1 || len(h.publisher.events) != 1 || h.publisher.events[0].Success {
		t.Fatalf("ожидали оповещение и событие о сбое")
	}
}

func TestRunPartialFailures(t *testing.T) {
	h := newHarness(rcpt("ok"), rcpt("broken"), rcpt("rejected"))
	h.assembler.contents["ok"] = full()
	h.assembler.contents["rejected"] = full()
	h.assembler.errs["broken"] = errors.New("content store unreachable")
	h.transport.reject["rejected@example.com"] = true

	report, err := h.pipeline(Config{}).Run(context.Background(), domain.RunRequest{TargetHour: 7})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	h.wait(t)
	res := report.Result
	if res.Sent != 1 || res.Failed != 2 || res.Skipped != 0 {
		t.Fatalf("неожиданные счётчики: %+v", res)
	}
	if !res.Success {
		t.Fatalf("запуск с хотя бы одной отправкой успешен")
	}
	if len(res.Errors) != 2 || !strings.HasPrefix(res.Errors[0], "broken@example.com:") {
		t.Fatalf("неожиданные ошибки: %v", res.Errors)
	}
	if len(h.alerter.texts) != 0 {
		t.Fatalf("для успешного запуска оповещение не нужно")
	}
	if len(h.publisher.events) != 1 || h.publisher.events[0].RunID != res.RunID {
		t.Fatalf("ожидали событие о запуске")
	}
}

func TestRunAllFailedIsUnsuccessful(t *testing.T) {
	h := newHarness(rcpt("a"), rcpt("b"))
	h.assembler.errs["a"] = errors.New("down")
	h.assembler.errs["b"] = errors.New("down")

	report, err := h.pipeline(Config{}).Run(context.Background(), domain.RunRequest{TargetHour: 7})
	if err != nil {
		t.Fatalf("сбой сборки не системный: %v", err)
	}
	h.wait(t)
	if report.Result.Success {
		t.Fatalf("запуск без единой отправки и с ошибками неуспешен")
	}
	if len(h.alerter.texts) != 1 || !strings.Contains(h.alerter.texts[0], "failed=2") {
		t.Fatalf("неожиданное оповещение: %v", h.alerter.texts)
	}
}

func TestRunDryRunSkipsTransportAndCap(t *testing.T) {
	h := newHarness(rcpt("a"), rcpt("b"), rcpt("c"))
	for _, id := range []string{"a", "b", "c"} {
		h.assembler.contents[id] = full()
	}

	report, err := h.pipeline(Config{MaxBatch: 1}).Run(context.Background(), domain.RunRequest{TargetHour: 7, DryRun: true})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(h.transport.sent) != 0 {
		t.Fatalf("пробный запуск не должен отправлять письма")
	}
	if len(report.Previews) != 3 || report.Previews[2].Recipient.ID != "c" {
		t.Fatalf("ожидали превью всех получателей по порядку: %+v", report.Previews)
	}
	if report.Previews[0].Subject != "Hood A Daily Brief: Thu, Jan 15" {
		t.Fatalf("неожиданная тема превью: %q", report.Previews[0].Subject)
	}
	if report.Result.ItemsProcessed() != 3 || report.Result.Sent != 0 {
		t.Fatalf("неожиданные счётчики: %+v", report.Result)
	}
}

func TestRunCapsBatchBeforeAssembly(t *testing.T) {
	h := newHarness(rcpt("a"), rcpt("b"), rcpt("c"))
	for _, id := range []string{"a", "b", "c"} {
		h.assembler.contents[id] = full()
	}

	report, err := h.pipeline(Config{MaxBatch: 2, Concurrency: 4}).Run(context.Background(), domain.RunRequest{TargetHour: 7})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if h.assembler.calls != 2 {
		t.Fatalf("сверх лимита собирать не нужно, сборок: %d", h.assembler.calls)
	}
	res := report.Result
	if res.Sent != 2 || res.Skipped != 1 || res.RecipientsFound != 3 {
		t.Fatalf("неожиданные счётчики: %+v", res)
	}
}

func TestRunForcedRecipient(t *testing.T) {
	h := newHarness()
	h.resolver.forced = rcpt("qa")
	h.assembler.contents["qa"] = full()

	report, err := h.pipeline(Config{}).Run(context.Background(), domain.RunRequest{TargetHour: 7, ForceRecipient: "qa@example.com", BypassTimezone: true})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !h.resolver.bypass {
		t.Fatalf("флаг обхода часового пояса должен передаваться резолверу")
	}
	if report.Result.Sent != 1 || h.transport.sent[0] != "qa@example.com" {
		t.Fatalf("ожидали отправку тестовому получателю: %+v", report.Result)
	}

	h.resolver.forcedErr = recipients.ErrRecipientNotFound
	if _, err := h.pipeline(Config{}).Run(context.Background(), domain.RunRequest{ForceRecipient: "nobody@example.com"}); !errors.Is(err, recipients.ErrRecipientNotFound) {
		t.Fatalf("ожидали ErrRecipientNotFound, получили %v", err)
	}
}
