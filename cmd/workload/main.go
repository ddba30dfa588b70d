package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ksred/daytrader-api/internal/workload"
)

type options struct {
	addr    string
	workers int
	timeout time.Duration
	debug   bool
}

// init configures the logger for the workload runner with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "workload",
		Short: "Replay workload files and seed fixtures against the day trading API",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.addr, "addr", "http://localhost:8080", "base URL of the API")
	cmd.PersistentFlags().IntVar(&opts.workers, "workers", 8, "number of concurrent workers")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "per request timeout")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "log every response")

	cmd.AddCommand(
		newRunCmd(opts),
		newSeedCmd(opts),
	)
	return cmd
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Replay a workload file such as \"[1] ADD,alice,100.00\" lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			parseStart := time.Now()
			commands, err := workload.Parse(f)
			if err != nil {
				return err
			}
			log.Info().
				Int("commands", len(commands)).
				Dur("parse_time", time.Since(parseStart)).
				Msg("Parsed workload file")

			return execute(cmd.Context(), opts, commands)
		},
	}
}

func newSeedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Create users, positions and triggers from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			fixture, err := workload.LoadFixture(f)
			if err != nil {
				return err
			}
			commands, err := fixture.Commands()
			if err != nil {
				return err
			}
			log.Info().Int("users", len(fixture.Users)).Int("commands", len(commands)).Msg("Seeding fixture")

			return execute(cmd.Context(), opts, commands)
		},
	}
}

func execute(ctx context.Context, opts *options, commands []workload.Command) error {
	stats := workload.NewStats()
	client := workload.NewClient(opts.addr, opts.timeout, stats)

	summary := workload.Run(ctx, client, commands, opts.workers)

	rps := 0.0
	if summary.Duration > 0 {
		rps = float64(summary.Total-summary.Skipped) / summary.Duration.Seconds()
	}
	log.Info().
		Int("total", summary.Total).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Float64("requests_per_second", rps).
		Msg("Workload completed")

	stats.Print(os.Stdout)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d commands failed", summary.Failed, summary.Total)
	}
	return nil
}
