package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chenyanchen/hotreload"
)

var runFrames int

// runClock drives the frame loop. It can be overridden in tests.
var runClock clock.Clock = clock.NewClock()

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the frame loop and hot reload changed assets",
	Long: `Loads every asset declared in the config file, then steps a frame loop at
the configured fps. On every frame the reload strategy is ticked; on due
frames changed assets are reloaded and swapped in. Failed reloads keep the
previous content and are reported.

The loop runs until interrupted, or for --frames frames when set.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runFrames, "frames", 0, "stop after this many frames (0 runs until interrupted)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, configPath, runClock)
	if err != nil {
		return err
	}
	defer closeApp(cmd.ErrOrStderr(), a)

	if a.cfg.Watch {
		if err := a.startWatcher(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
	}
	if a.cfg.MetricsAddr != "" {
		shutdown := serveMetrics(a)
		defer shutdown()
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "loaded %d assets, strategy %s, %d fps\n", a.store.Len(), a.strategy, a.cfg.FPS)
	return frameLoop(ctx, a, runClock, runFrames, out)
}

// frameLoop steps a once per tick of clk until ctx is done or frames
// frames ran (frames <= 0 means no limit).
func frameLoop(ctx context.Context, a *app, clk clock.Clock, frames int, out io.Writer) error {
	ticker := clk.NewTicker(a.cfg.FrameInterval())
	defer ticker.Stop()

	for n := 0; frames <= 0 || n < frames; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
		printReport(out, a.step(ctx))
	}
	return nil
}

func printReport(out io.Writer, report hotreload.FrameReport) {
	if !report.Due {
		return
	}
	for _, pass := range report.Passes {
		for _, key := range pass.Reloaded {
			fmt.Fprintf(out, "frame %d: reloaded %s\n", report.Frame, key)
		}
		for _, key := range pass.Failed {
			fmt.Fprintf(out, "frame %d: reload failed %s\n", report.Frame, key)
		}
	}
}

// serveMetrics exposes the app's Prometheus registry and returns a shutdown func.
func serveMetrics(a *app) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", srv.Addr))
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
