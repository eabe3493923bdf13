package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"neighborhood-digest/internal/app"
	"neighborhood-digest/internal/domain"
)

func newRunCmd() *cobra.Command {
	var req domain.RunRequest
	hour := -1
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Запустить рассылку для получателей с заданным местным часом",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				req.TargetHour = hour
				if req.TargetHour < 0 {
					req.TargetHour = a.Config.Digest.TargetHour
				}
				if req.TargetHour > 23 {
					return fmt.Errorf("hour must be in [0, 23], got %d", req.TargetHour)
				}
				report, err := a.RunDigest(ctx, req)
				if perr := printJSON(cmd, report); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&hour, "hour", -1, "целевой местный час (по умолчанию DIGEST_TARGET_HOUR)")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "собрать письма без отправки")
	cmd.Flags().StringVar(&req.ForceRecipient, "force", "", "отправить только на этот адрес")
	cmd.Flags().BoolVar(&req.BypassTimezone, "bypass-tz", false, "не проверять местный час принудительного получателя")
	return cmd
}

func newReapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap-holds",
		Short: "Удалить неоплаченные брони старше часа",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				deleted, err := a.ReapHolds(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"deleted": deleted})
			})
		},
	}
}

func newTierCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "tier <neighborhood>",
		Short: "Показать ценовой уровень района на дату",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				at := time.Now()
				if date != "" {
					parsed, err := time.ParseInLocation(domain.DateLayout, date, a.Config.Location())
					if err != nil {
						return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
					}
					at = parsed
				}
				return printJSON(cmd, a.Tiers.ResolveTier(ctx, strings.TrimSpace(args[0]), at))
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "дата YYYY-MM-DD (по умолчанию сегодня)")
	return cmd
}

func newAvailabilityCmd() *cobra.Command {
	var (
		placement string
		from      string
		months    int
	)
	cmd := &cobra.Command{
		Use:   "availability [neighborhood]",
		Short: "Показать календарь занятости рекламных мест",
		Long:  "Без района выводится календарь глобальных броней.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				loc := a.Config.Location()
				rng := domain.MonthRange{From: time.Now().In(loc), Months: months}
				if from != "" {
					parsed, err := time.ParseInLocation(domain.MonthLayout, from, loc)
					if err != nil {
						return fmt.Errorf("from must be YYYY-MM: %w", err)
					}
					rng.From = parsed
				}
				neighborhood := ""
				if len(args) == 1 {
					neighborhood = strings.TrimSpace(args[0])
				}
				avail, err := a.Guard.ComputeAvailability(ctx, neighborhood, domain.PlacementType(placement), rng)
				if err != nil {
					return err
				}
				return printJSON(cmd, avail)
			})
		},
	}
	cmd.Flags().StringVar(&placement, "placement", string(domain.PlacementDailyBrief), "daily_brief или sunday_edition")
	cmd.Flags().StringVar(&from, "from", "", "первый месяц YYYY-MM (по умолчанию текущий)")
	cmd.Flags().IntVar(&months, "months", 1, "число месяцев")
	return cmd
}

func newEventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Прочитать события запусков из очереди Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if a.Events == nil {
					return errors.New("events queue requires EVENTS_DRIVER=redis")
				}
				for i := 0; limit <= 0 || i < limit; i++ {
					event, err := a.Events.Pop(ctx)
					if err != nil {
						if errors.Is(err, context.Canceled) {
							return nil
						}
						return err
					}
					if err := printJSON(cmd, event); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "остановиться после N событий (0 — читать до прерывания)")
	return cmd
}
