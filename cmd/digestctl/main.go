package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"neighborhood-digest/internal/app"
	"neighborhood-digest/internal/infra/config"
	applog "neighborhood-digest/internal/infra/log"
)

var rootCmd = &cobra.Command{
	Use:           "digestctl",
	Short:         "Ручное управление рассылкой дайджестов и рекламным календарём.",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

var quiet bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "писать в лог только ошибки")
	rootCmd.AddCommand(newRunCmd(), newReapCmd(), newTierCmd(), newAvailabilityCmd(), newEventsCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// withApp собирает зависимости для одной команды и закрывает их после неё.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Parse()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := applog.NewLogger(cfg.AppEnv, "digestctl")
	if quiet {
		logger = logger.Level(zerolog.ErrorLevel)
	}
	a, err := app.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
