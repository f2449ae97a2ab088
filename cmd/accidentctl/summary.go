package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newSummaryCmd(opts *globalOpts) *cobra.Command {
	var (
		year     int
		constant int64
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the lagging indicator summary for a year as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.close()

			s, err := eng.cache.Get(cmd.Context(), year, constant)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "Reporting year")
	cmd.Flags().Int64Var(&constant, "constant", 0, "Exposure constant (default from config)")
	return cmd
}
