package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const drainTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, task worker and ops listener",
	Long: `Run the long-lived process: the queue scheduler posts due entries, the
task worker finishes renders and provider waits, and the ops listener
serves /healthz, /metrics and locally stored videos.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, _, err := buildApp(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()

	logger := zap.L()
	logger.Info("Starting reelforge", zap.Bool("worker", res.Worker != nil))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return res.Scheduler.Run(gctx) })
	g.Go(func() error { return res.Ops.Run(gctx) })
	if res.Worker != nil {
		g.Go(func() error { return res.Worker.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("Shutting down...")

	if res.Inline != nil {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), drainTimeout)
		defer cancel()
		if derr := res.Inline.Shutdown(drainCtx); derr != nil {
			logger.Warn("In-process tasks did not finish", zap.Error(derr))
		}
	}
	return err
}
