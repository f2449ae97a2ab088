package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/accident-engine/generic"
)

// keyFlags are the counter key flags shared by the sequence subcommands.
type keyFlags struct {
	scope   string
	company string
	site    string
	year    int
}

func (k *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.scope, "scope", "global", "Counter scope: global or site")
	cmd.Flags().StringVar(&k.company, "company", "", "Company code")
	cmd.Flags().StringVar(&k.site, "site", "", "Site code (site scope only)")
	cmd.Flags().IntVar(&k.year, "year", time.Now().Year(), "Counter year")
}

func (k *keyFlags) key() generic.CounterKey {
	return generic.CounterKey{
		Scope:       generic.Scope(strings.ToLower(k.scope)),
		CompanyCode: k.company,
		SiteCode:    k.site,
		Year:        k.year,
	}
}

func newSequenceCmd(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Inspect and override sequence counters",
	}
	cmd.AddCommand(
		newSequenceShowCmd(opts),
		newSequenceSetCmd(opts),
		newSequenceNextCmd(opts),
	)
	return cmd
}

func newSequenceShowCmd(opts *globalOpts) *cobra.Command {
	var kf keyFlags
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current counter value and override history",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.close()

			key := kf.key()
			cur, ok, err := eng.allocator.GetCurrent(cmd.Context(), key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintf(out, "%s: no codes issued\n", key)
			} else {
				fmt.Fprintf(out, "%s: %03d\n", key, cur)
			}

			history, err := eng.allocator.Overrides(cmd.Context(), key)
			if err != nil {
				return err
			}
			for _, o := range history {
				fmt.Fprintf(out, "  %s  %03d -> %03d  by %s  %s\n",
					o.AppliedAt.Format(time.RFC3339), o.OldSeq, o.NewSeq, o.Actor, o.Reason)
			}
			return nil
		},
	}
	kf.register(cmd)
	return cmd
}

func newSequenceSetCmd(opts *globalOpts) *cobra.Command {
	var (
		kf     keyFlags
		seq    int
		actor  string
		reason string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Manually move a counter; the next allocation returns seq+1",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.close()

			o, err := eng.allocator.SetManual(cmd.Context(), kf.key(), seq, actor, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %03d -> %03d\n", o.Key, o.OldSeq, o.NewSeq)
			return nil
		},
	}
	kf.register(cmd)
	cmd.Flags().IntVar(&seq, "seq", 0, "New counter value 1-999")
	cmd.Flags().StringVar(&actor, "actor", "accidentctl", "Who is applying the override")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the override is needed")
	cmd.MarkFlagRequired("seq")
	return cmd
}

func newSequenceNextCmd(opts *globalOpts) *cobra.Command {
	var kf keyFlags
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Allocate and print the next seq (consumes it)",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer eng.close()

			n, err := eng.allocator.AllocateNext(cmd.Context(), kf.key())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%03d\n", n)
			return nil
		},
	}
	kf.register(cmd)
	return cmd
}
