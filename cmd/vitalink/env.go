package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/vitalink/internal/device"
	goble "github.com/srg/vitalink/internal/device/go-ble"
	"github.com/srg/vitalink/internal/device/simulated"
	"github.com/srg/vitalink/pkg/config"
	"github.com/srg/vitalink/pkg/parser"
	"github.com/srg/vitalink/pkg/whitelist"
)

// environment is what every command needs: configuration, logger, the
// whitelist and a lazily created transport.
type environment struct {
	cfg    *config.Config
	logger *logrus.Logger
	table  *whitelist.Table

	transport device.Transport
	closer    func() error
}

func loadEnvironment(cmd *cobra.Command) (*environment, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if wl, _ := cmd.Flags().GetString("whitelist"); wl != "" {
		cfg.WhitelistFile = wl
	}
	if cmd.Flags().Changed("simulate") {
		cfg.Simulate, _ = cmd.Flags().GetBool("simulate")
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	table := whitelist.Default()
	if cfg.WhitelistFile != "" {
		if table, err = whitelist.LoadFile(cfg.WhitelistFile); err != nil {
			return nil, err
		}
	}
	if err := table.Validate(parser.Default); err != nil {
		// unknown parsers fall back to the hex decoder, so this is not fatal
		logger.WithError(err).Warn("Whitelist references unknown parsers")
	}

	return &environment{cfg: cfg, logger: logger, table: table}, nil
}

// Transport returns the simulated or real radio transport.
func (e *environment) Transport() device.Transport {
	if e.transport != nil {
		return e.transport
	}
	if e.cfg.Simulate {
		e.logger.Info("Using simulated sensors")
		e.transport = simulated.New(simulated.WithLogger(e.logger))
		return e.transport
	}
	t := goble.New(nil, e.logger)
	e.transport = t
	e.closer = t.Close
	return t
}

func (e *environment) Close() {
	if e.closer == nil {
		return
	}
	if err := e.closer(); err != nil {
		e.logger.WithError(err).Debug("Failed to release the Bluetooth adapter")
	}
}

func validateFormat(format string) error {
	switch format {
	case "table", "json":
		return nil
	default:
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
}
