package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/vpuomx/config"
)

// app carries the settings shared by every sub-command.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "vpusim",
		Short:        "Video codec component simulator",
		Long:         "Drive OMX-style video decoder and encoder components through full sessions on the software engine.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		a.rolesCommand(),
		a.sessionCommand("decode", "Decode a synthetic bitstream", false),
		a.sessionCommand("encode", "Encode synthetic pictures", true),
		a.loopbackCommand(),
		a.configCommand(),
	)
	return root
}

// setup loads configuration and applies logging before any sub-command.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}
	a.cfg = cfg

	logrus.WithFields(logrus.Fields{
		"function": "setup",
		"config":   a.configPath,
		"level":    cfg.Log.Level,
	}).Debug("Configuration loaded")
	return nil
}
