package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/sequence"
)

func newCodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Format and parse accident codes",
	}
	cmd.AddCommand(newCodeFormatCmd(), newCodeParseCmd())
	return cmd
}

func newCodeFormatCmd() *cobra.Command {
	var (
		company string
		site    string
		year    int
		seq     int
		date    string
	)

	cmd := &cobra.Command{
		Use:   "format global|site",
		Short: "Render a code from its parts",
		Long: `Renders a global accident number ({company}-{year}-{seq}) or a site
accident id ({company}-{site}-{seq}-{YYYYMMDD}).

Examples:
  accidentctl code format global --company ACME --year 2025 --seq 7
  accidentctl code format site --company ACME --site P1 --seq 12 --date 2025-03-14`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"global", "site"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				code string
				err  error
			)
			switch generic.CodeKind(strings.ToLower(args[0])) {
			case generic.KindGlobal:
				code, err = sequence.FormatGlobal(company, year, seq)
			case generic.KindSite:
				var d time.Time
				if d, err = time.Parse("2006-01-02", date); err != nil {
					return fmt.Errorf("--date: expected YYYY-MM-DD: %w", err)
				}
				code, err = sequence.FormatSite(company, site, seq, d)
			default:
				return fmt.Errorf("unknown kind %q (want global or site)", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}

	cmd.Flags().StringVar(&company, "company", "", "Company code")
	cmd.Flags().StringVar(&site, "site", "", "Site code (site codes only)")
	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "Year (global codes only)")
	cmd.Flags().IntVar(&seq, "seq", 1, "Sequence number 1-999")
	cmd.Flags().StringVar(&date, "date", time.Now().Format("2006-01-02"), "Occurrence date (site codes only)")
	return cmd
}

func newCodeParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse CODE",
		Short: "Decompose a code into its parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := strings.TrimSpace(args[0])
			out := cmd.OutOrStdout()
			if strings.Count(code, "-") == 2 {
				c, err := sequence.ParseGlobal(code)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "kind:    global\ncompany: %s\nyear:    %d\nseq:     %d\nkey:     %s\n",
					c.Company, c.Year, c.Seq, c.Key())
				return nil
			}
			c, err := sequence.ParseSite(code)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "kind:    site\ncompany: %s\nsite:    %s\nseq:     %d\ndate:    %s\nkey:     %s\n",
				c.Company, c.Site, c.Seq, c.Date.Format("2006-01-02"), c.Key())
			return nil
		},
	}
}
