package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperfetch/internal/app"
	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

type downloadFlags struct {
	date        string
	sources     []string
	output      string
	concurrency int
}

func newDownloadCmd() *cobra.Command {
	var flags downloadFlags
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download one day's pages from the selected newspapers",
		Example: `  paperfetch download --date 2025-01-02 --source people --source legal --output ./papers
  paperfetch download --source xinhua`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDownload(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.date, "date", "", "issue date as YYYY-MM-DD (default today)")
	cmd.Flags().StringArrayVar(&flags.sources, "source", nil, "newspaper id to download; repeatable (default download.sources)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "destination directory (default download.output_dir)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "simultaneous downloads (default download.concurrency)")
	return cmd
}

func runDownload(cmd *cobra.Command, flags downloadFlags) error {
	ctx := cmd.Context()
	env, err := envFrom(ctx)
	if err != nil {
		return err
	}

	loc, err := env.cfg.Location()
	if err != nil {
		return err
	}
	date, err := parseDate(flags.date, time.Now().In(loc))
	if err != nil {
		return err
	}
	srcs := flags.sources
	if len(srcs) == 0 {
		srcs = env.cfg.Download.Sources
	}
	if len(srcs) == 0 {
		return fmt.Errorf("%w: pass --source or set download.sources", newspaper.ErrNoSources)
	}

	a, err := buildApp(ctx, env.cfg, env.logger, app.Options{
		Out:         cmd.OutOrStdout(),
		Concurrency: flags.concurrency,
		OutputDir:   flags.output,
	})
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			env.logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	// The manager outlives ctx so a signal turns into a cancelled session
	// rather than an abandoned one.
	runCtx := context.WithoutCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- a.Manager.Run(runCtx) }()

	id, err := a.Manager.Submit(ctx, newspaper.Request{Date: date, Sources: srcs})
	a.Manager.Close()
	if err != nil {
		<-runDone
		return fmt.Errorf("submit session: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		if cerr := a.Manager.Cancel(id); cerr != nil && !errors.Is(cerr, newspaper.ErrNotFound) {
			env.logger.Debug("cancel on signal", zap.Error(cerr))
		}
	})
	defer stop()

	summary, err := a.Manager.Wait(runCtx, id)
	if runErr := <-runDone; runErr != nil {
		env.logger.Warn("session manager stopped", zap.Error(runErr))
	}
	if err != nil {
		return err
	}
	if summary.Status == newspaper.StatusCancelled {
		return errors.New("download cancelled")
	}
	return nil
}

// parseDate reads YYYY-MM-DD. An empty value means now's calendar day.
func parseDate(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	date, err := time.Parse(newspaper.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", value)
	}
	return date, nil
}
