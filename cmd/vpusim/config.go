package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/vpuomx/config"
)

func (a *app) configCommand() *cobra.Command {
	var write string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print or write the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if write != "" {
				if err := config.Save(a.cfg, write); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", write)
				return nil
			}
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&write, "write", "w", "", "write the configuration to this file instead of printing it")
	return cmd
}
