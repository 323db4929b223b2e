package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pipeserve/pkg/store"
)

func newAuditCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "audit [database-path]",
		Short: "Print the newest audit records of a stopped server's database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			db, err := store.Open(args[0])
			if err != nil {
				return err
			}
			defer db.Close()
			recs, err := db.ListAudit(limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tAT\tKIND\tPRINCIPAL\tKEY\tDETAIL")
			for _, r := range recs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", r.Seq, r.At.Format(time.RFC3339), r.Kind, r.Principal, r.Key, r.Detail)
			}
			return w.Flush()
		},
	}
	c.Flags().IntP("limit", "n", 50, "number of records to print, newest first")
	return c
}
