package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shpitdev/price-sheet-tracker/internal/version"
)

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(c.stdout, version.Current)
			return err
		},
	}
}
