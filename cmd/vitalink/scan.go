package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/vitalink/internal/device"
	"github.com/srg/vitalink/internal/groutine"
	"github.com/srg/vitalink/pkg/client"
	"github.com/srg/vitalink/pkg/whitelist"
)

type scanOptions struct {
	duration time.Duration
	all      bool
	format   string
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for nearby sensors",
		Long: `Scan for nearby BLE peripherals and list the whitelisted sensors among
them, unique by name. Use --all to list every peripheral found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Scan duration (defaults to scan_timeout from the config)")
	cmd.Flags().BoolVarP(&opts.all, "all", "a", false, "Show peripherals that are not whitelisted")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "table", "Output format (table, json)")
	return cmd
}

func runScan(cmd *cobra.Command, opts *scanOptions) error {
	if err := validateFormat(opts.format); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	duration := opts.duration
	if duration <= 0 {
		duration = env.cfg.ScanTimeout
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(env.Transport(), client.WithLogger(env.logger))

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for sensors", "Scanning", duration)
	progress.Start()
	stopWatch := watchSightings(c, progress, env.table, opts.all)
	found, scanErr := c.Scan(ctx, duration)
	stopWatch()
	progress.Stop()

	if scanErr != nil {
		env.logger.WithError(scanErr).Error("scan failed")
		var partial *device.ScanError
		if !errors.As(scanErr, &partial) || len(found) == 0 {
			return scanErr
		}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Scan interrupted")
	}

	shown := found
	if !opts.all {
		shown = env.table.Filter(found)
	}
	if err := printDevices(cmd.OutOrStdout(), shown, env.table, opts.format); err != nil {
		return err
	}
	return scanErr
}

// watchSightings prints peripherals as the scan discovers them. The returned
// func stops the watcher and flushes sightings still in the feed.
func watchSightings(c *client.Client, progress *ProgressPrinter, table *whitelist.Table, all bool) func() {
	show := func(d device.Descriptor) {
		if !all && !table.IsWhitelisted(d.Name) {
			return
		}
		progress.Println(fmt.Sprintf("  Found %s (%s, %d dBm)", d.DisplayName(), d.ID, d.RSSI))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := groutine.Go(ctx, "scan-sightings", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-c.Discoveries():
				show(d)
			}
		}
	})

	return func() {
		cancel()
		<-done
		for {
			select {
			case d := <-c.Discoveries():
				show(d)
			default:
				return
			}
		}
	}
}

type scannedDevice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	RSSI        int    `json:"rssi"`
	Whitelisted bool   `json:"whitelisted"`
}

func printDevices(out io.Writer, found []device.Descriptor, table *whitelist.Table, format string) error {
	rows := make([]scannedDevice, 0, len(found))
	for _, d := range found {
		rows = append(rows, scannedDevice{ID: d.ID, Name: d.Name, RSSI: d.RSSI, Whitelisted: table.IsWhitelisted(d.Name)})
	}

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "No sensors found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRSSI\tWHITELISTED")
	for _, r := range rows {
		name := r.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", r.ID, name, r.RSSI, r.Whitelisted)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d sensor(s) found\n", len(rows))
	return nil
}
