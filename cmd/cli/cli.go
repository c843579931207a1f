package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"

	"github.com/jeffypooo/resgraph/internal/config"
	"github.com/jeffypooo/resgraph/internal/metrics"
)

type flags struct {
	ConfigPath string
	Count      int
	Verbose    bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:          "resgraph",
		Short:        "Sample CPU, memory and disk load",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&f.ConfigPath, "config", "c", config.DefaultPath, "Config file")
	cmd.PersistentFlags().BoolVarP(&f.Verbose, "verbose", "v", false, "Log at debug level")

	cmd.AddCommand(sampleCmd(f), disksCmd(f))
	return cmd
}

func sampleCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print samples as JSON, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sampler, cfg, err := newSampler(ctx, f)
			if err != nil {
				return err
			}
			defer sampler.Stop()

			// -n is a sample count, the buffer only absorbs a slow stdout
			samples, unsubscribe := sampler.Subscribe(cfg.SubscriberBuffer)
			defer unsubscribe()

			done := make(chan error, 1)
			go func() { done <- sampler.Run(ctx) }()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for i := 0; f.Count <= 0 || i < f.Count; i++ {
				select {
				case <-ctx.Done():
					return nil
				case err := <-done:
					return err
				case s := <-samples:
					if err := enc.Encode(s); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&f.Count, "count", "n", 5, "Number of samples, 0 for no limit")
	return cmd
}

func disksCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "disks",
		Short: "List the disks that would be sampled",
		RunE: func(cmd *cobra.Command, args []string) error {
			sampler, _, err := newSampler(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer sampler.Stop()

			out, err := json.MarshalIndent(sampler.Disks(), "", " ")
			if err != nil {
				return fmt.Errorf("error marshalling disks: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

// newSource is replaced in tests.
var newSource = func() metrics.Source { return metrics.NewHostSource() }

func newSampler(ctx context.Context, f *flags) (*metrics.Sampler, *config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	logger := log.New("resgraph")
	logger.SetOutput(os.Stderr)
	logger.SetLevel(cfg.Level())
	if f.Verbose {
		logger.SetLevel(log.DEBUG)
	}

	sampler := metrics.NewSampler(newSource(), cfg.Options(), logger)
	if _, err := sampler.Initialize(ctx); err != nil {
		return nil, nil, err
	}
	return sampler, cfg, nil
}
