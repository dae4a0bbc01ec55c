package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/vitalink/internal/metrics"
	"github.com/srg/vitalink/pkg/client"
	"github.com/srg/vitalink/pkg/session"
)

type streamOptions struct {
	record      string
	recordSet   bool
	dest        string
	duration    time.Duration
	metricsAddr string
}

func newStreamCmd() *cobra.Command {
	opts := &streamOptions{}
	cmd := &cobra.Command{
		Use:   "stream <device-id|name>",
		Short: "Connect to a sensor and stream its signal",
		Long: `Connect to a whitelisted sensor and show a live view of its signal.

With --record, decoded samples are written to CSV under <data_dir>/data
(or <dest>/data) when streaming ends. Press Ctrl+C to stop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.recordSet = cmd.Flags().Changed("record")
			return runStream(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.record, "record", "r", "", "Record samples to CSV under this name (empty picks <device>_<timestamp>)")
	cmd.Flags().StringVar(&opts.dest, "dest", "", "Save recordings under this folder instead of the data directory")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Stop after this long (0 streams until Ctrl+C)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address, e.g. :9100")
	return cmd
}

func runStream(cmd *cobra.Command, ref string, opts *streamOptions) error {
	cmd.SilenceUsage = true

	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	entry, ok := env.table.Lookup(ref)
	if !ok {
		return fmt.Errorf("%w: %q (see 'vitalink devices')", ErrUnknownDevice, ref)
	}
	dataDir, err := env.cfg.DataPath()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	addr := opts.metricsAddr
	if addr == "" {
		addr = env.cfg.MetricsAddr
	}
	if addr != "" {
		shutdown := serveMetrics(addr, reg, env.logger)
		defer shutdown()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	view := newLiveView(out)
	alerter := &terminalAlerter{out: cmd.ErrOrStderr()}

	c := client.New(env.Transport(), client.WithLogger(env.logger), client.WithMetrics(m))
	sess := session.New(c, entry,
		session.WithLogger(env.logger),
		session.WithMetrics(m),
		session.WithStore(&session.FileStore{BaseDir: dataDir}),
		session.WithAlerter(alerter),
		session.WithWaveformCapacity(env.cfg.WaveformCapacity),
		session.WithRange(env.cfg.YMin, env.cfg.YMax),
		session.WithConnectTimeout(env.cfg.ConnectTimeout),
	)
	defer sess.Close()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", entry.Name), "Connecting")
	progress.Start()
	err = sess.Start(ctx)
	progress.Stop()
	if err != nil {
		return err
	}

	if opts.recordSet {
		dest := session.Destination{Kind: session.AppStorage}
		if opts.dest != "" {
			dest = session.Destination{Kind: session.Folder, Dir: opts.dest}
		}
		name, err := sess.StartRecording(opts.record, dest)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Recording to %s\n", name)
	}

	var deadline <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(env.cfg.RenderInterval)
	defer ticker.Stop()

	streamErr := func() error {
		for {
			select {
			case <-ticker.C:
				sess.Render(view)
				view.Draw(sess.Stats())
			case <-sess.Done():
				if alerter.Lost() {
					return ErrConnectionLost
				}
				return nil
			case <-deadline:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	}()

	var saveErr error
	if sess.Stats().Recording {
		_, saveErr = sess.StopRecording()
	}
	sess.Close()
	view.Summary(sess.Stats())

	return errors.Join(streamErr, saveErr)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *logrus.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics endpoint failed")
		}
	}()
	logger.WithField("addr", addr).Info("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
