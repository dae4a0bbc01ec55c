package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/vitalink/pkg/config"
)

// configureLogger creates a logger from --log-level, then --verbose, then
// the config file. Without any of them the logger is silent.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	effective := *cfg
	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		effective.LogLevel = s
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		effective.LogLevel = "debug"
	}
	if _, err := effective.Level(); err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}

	logger := effective.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}
