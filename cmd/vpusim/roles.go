package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opd-ai/vpuomx"
	"github.com/opd-ai/vpuomx/omx"
)

func (a *app) rolesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List registered components and their roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "COMPONENT\tROLES")
			for i := uint32(0); ; i++ {
				name, err := vpuomx.ComponentNameEnum(i)
				if errors.Is(err, omx.ErrNoMore) {
					break
				}
				if err != nil {
					return err
				}
				roles, err := vpuomx.GetRolesOfComponent(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\n", name, strings.Join(roles, ","))
			}
			return w.Flush()
		},
	}
}
