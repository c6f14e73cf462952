package cli

import (
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/habitsync/habitsync/internal/engine"
	"github.com/habitsync/habitsync/internal/metrics"
)

// DaemonOptions holds flags for the daemon command.
type DaemonOptions struct {
	*RootOptions
	MetricsAddr string
}

// NewDaemonCommand creates the daemon command: periodic background sync.
func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DaemonOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run periodic background sync",
		Long: `Run sync cycles on the configured interval until interrupted.
An immediate cycle runs on startup. With --metrics-addr set, sync
metrics are exposed at /metrics on that address.

Example:
  habitsync daemon --config ~/.habitsync/config.yaml
  habitsync daemon --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "address for the Prometheus /metrics endpoint")

	return cmd
}

func runDaemon(cmd *cobra.Command, opts *DaemonOptions) error {
	reg := prometheus.NewRegistry()
	app, err := OpenApp(opts.Config, engine.WithMetrics(metrics.NewPrometheus(reg)))
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("metrics endpoint listening", "addr", opts.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
		defer metricsSrv.Close()
	}

	// Drain notifications so the channel never backs up, logging failures.
	go func() {
		for n := range app.Engine.Notifications() {
			if n.Kind == engine.NotifySyncFailed {
				slog.Warn("sync cycle failed", "user", n.UserID, "err", n.Err)
			}
		}
	}()

	sched := engine.NewScheduler(app.Engine,
		engine.WithDebounce(app.Config.Debounce),
		engine.WithInterval(app.Config.Interval))
	sched.StartPeriodic(ctx)

	slog.Info("daemon running", "interval", app.Config.Interval)
	<-ctx.Done()

	slog.Info("stopping daemon")
	sched.StopPeriodic()
	return nil
}
