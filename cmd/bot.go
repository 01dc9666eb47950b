package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/monitoring"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/telegram"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Telegram bot",
	Long: `Long-polls Telegram for equipment photos and runs them through the
analysis pipeline. Validation questions are answered inline via buttons.

The bot also runs the background health checker and periodic maintenance,
so a single process covers the whole field deployment.`,
	RunE: runBot,
}

func init() {
	rootCmd.AddCommand(botCmd)
}

func runBot(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.Token == "" {
		return eris.New("bot: telegram.token is required")
	}

	env, err := initPipeline(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.store.Migrate(ctx); err != nil {
		return err
	}

	router, err := telegram.NewRouter(cfg.Telegram, env.orch)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return router.Run(gctx)
	})

	g.Go(func() error {
		collector := monitoring.NewCollector(env.store)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		checker.Run(gctx)
		return nil
	})

	g.Go(func() error {
		runMaintenance(gctx, env)
		return nil
	})

	return g.Wait()
}
