package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/auth"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/config"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/debounce"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/routers"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	logger *zap.Logger
	cfg    *config.Config
}

func newRootCommand(logger *zap.Logger) *cobra.Command {
	opts := &rootOptions{logger: logger}
	cmd := &cobra.Command{
		Use:           "guardian",
		Short:         "Study Guardian: study sessions, chores and rewards for the family",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("конфигурация: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
	}
	cmd.AddCommand(
		newServeCommand(opts),
		newSweepCommand(opts),
		newReconcileCommand(opts),
		newSeedCommand(opts),
		newScheduleCommand(opts),
	)
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			logger, cfg := opts.logger, opts.cfg

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			guard := debounce.New(cfg.DebounceWindow, nil)
			guard.StartPruner(ctx, time.Minute, logger)

			h := routers.NewHandler(a.svc, a.caches, auth.NewManager(cfg.JWTSecret, 24*time.Hour), guard, a.sink, logger)
			h.CronToken = cfg.CronToken
			h.Sweep = a.sweep
			if cfg.CronToken == "" {
				logger.Warn("CRON_TOKEN не задан, /cron/check_timeout отключён")
			}
			r := routers.SetupRoutersWithLogger(h, logger, a.registry)

			srv := &http.Server{Addr: cfg.RunAddress, Handler: r}
			go func() {
				<-ctx.Done()
				shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
				defer stop()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("Ошибка остановки сервера", zap.Error(err))
				}
			}()

			logger.Info("Сервер запущен", zap.String("address", cfg.RunAddress), zap.String("store", cfg.StoreDriver))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("ошибка запуска сервера: %w", err)
			}
			logger.Info("Сервер остановлен")
			return nil
		},
	}
}

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Close study sessions open longer than the timeout once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()
			closed, err := a.sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "closed %d\n", len(closed))
			return nil
		},
	}
}

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "reconcile USER...",
		Short: "Compare balances with the transaction journal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, id := range args {
				rep, err := a.svc.Ledger.Reconcile(ctx, id, fix)
				if err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				if rep.Drift != 0 {
					opts.logger.Warn("Расхождение баланса с журналом",
						zap.String("user_id", id), zap.Int64("drift", rep.Drift), zap.Bool("fixed", rep.Fixed))
				}
				if err := enc.Encode(rep); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "overwrite drifted balances with the journal sum")
	return cmd
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create missing tables, admins and shop items from a TOML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			seed, err := loadSeed(file)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()
			rep, err := applySeed(ctx, a.tables, a.svc.Accounts, a.svc.Shop, seed, opts.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tables created: %d, admins: %d, items: %d\n", rep.Tables, rep.Admins, rep.Items)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "seed.toml", "seed file")
	return cmd
}

func newScheduleCommand(opts *rootOptions) *cobra.Command {
	var target, spec string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Call the timeout endpoint of a running server on a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			if opts.cfg.CronToken == "" {
				return fmt.Errorf("CRON_TOKEN не задан")
			}
			trigger := &sweepTrigger{
				client: &http.Client{Timeout: 30 * time.Second},
				target: target,
				token:  opts.cfg.CronToken,
				logger: opts.logger,
			}
			return runSchedule(ctx, spec, trigger)
		},
	}
	cmd.Flags().StringVar(&target, "target", "http://localhost:8080/cron/check_timeout", "timeout endpoint URL")
	cmd.Flags().StringVar(&spec, "spec", "*/5 * * * *", "cron spec")
	return cmd
}
