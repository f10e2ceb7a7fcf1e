package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryosukesatoh/social-digest/internal/config"
	"github.com/ryosukesatoh/social-digest/internal/logger"
	"github.com/ryosukesatoh/social-digest/internal/schedule"
)

var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		once       bool
	)

	rootCmd := &cobra.Command{
		Use:           "social-digest",
		Short:         "Summarize recent posts of tracked accounts into a periodic digest",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if once {
				return runOnce(cmd.Context(), cfg, log, cmd.OutOrStdout())
			}
			return serve(cmd.Context(), cfg, log)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.Flags().BoolVar(&once, "once", false, "run the pipeline once and exit")

	rootCmd.AddCommand(loginCmd(&configPath))
	rootCmd.AddCommand(scheduleCmd(&configPath))

	return rootCmd
}

func loginCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Establish a source session and persist it to the cookie file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			src, err := newSource(cfg, log)
			if err != nil {
				return err
			}
			if err := newSessionManager(cfg, src, log).Ensure(cmd.Context()); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session stored in %s\n", cfg.Paths.Cookies)
			return nil
		},
	}
}

func scheduleCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Print the cron schedule derived from update_frequency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			expr, err := schedule.CronExpression(cfg.UpdateFrequency)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cron:      %s\n", expr)
			fmt.Fprintf(out, "period:    %s\n", cfg.Period())
			fmt.Fprintf(out, "freshness: %s\n", cfg.FreshnessWindow())
			return nil
		},
	}
}

func loadConfig(path string) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// runOnce runs the pipeline a single time, prints the run report to out and
// fails when the run fails.
func runOnce(ctx context.Context, cfg *config.Config, log logger.Logger, out io.Writer) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	log.Info("Running digest (once mode)")
	report, err := a.runner.Run(ctx)
	if report != nil {
		renderReport(out, report)
	}
	if ctx.Err() != nil {
		a.logout()
	}
	if err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}
	return nil
}

// serve runs the pipeline on start and then on the derived cron schedule until
// ctx is canceled.
func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	expr, err := schedule.CronExpression(cfg.UpdateFrequency)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if a.web != nil {
		if err := a.web.Start(); err != nil {
			return err
		}
	}

	if cfg.ShouldRunOnStart() {
		log.Info("Running initial digest")
		if _, err := a.runner.Run(ctx); err != nil {
			log.Error("Initial run failed", logger.Error(err))
		}
	}

	if ctx.Err() == nil {
		sched := schedule.New(log)
		err := sched.Add(expr, func() {
			log.Info("Cron triggered, running digest")
			if _, err := a.runner.Run(ctx); err != nil {
				log.Error("Scheduled run failed", logger.Error(err))
			}
		})
		if err != nil {
			return err
		}
		sched.Start()
		log.Info("Digest scheduled",
			logger.String("cron", expr),
			logger.Time("next", sched.Next()),
			logger.Duration("freshness_window", cfg.FreshnessWindow()))

		<-ctx.Done()
		log.Info("Received shutdown signal")

		select {
		case <-sched.Stop().Done():
		case <-time.After(shutdownTimeout):
			log.Warn("Abandoning in-flight run")
		}
	} else {
		log.Info("Received shutdown signal")
	}

	a.logout()
	log.Info("Shutdown complete")
	return nil
}
