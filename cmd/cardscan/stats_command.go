package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var top int
	var recent int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show scan counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ctx.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			st := engine.Store()
			total, err := st.TotalScans(cmd.Context())
			if err != nil {
				return err
			}
			cards, err := st.CardCount(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cards in catalog: %d\n", cards)
			fmt.Fprintf(out, "Total scans: %d\n", total)

			if top > 0 {
				counts, err := st.TopCards(cmd.Context(), top)
				if err != nil {
					return err
				}
				if len(counts) > 0 {
					rows := make([][]string, 0, len(counts))
					for _, c := range counts {
						rows = append(rows, []string{c.CardID, strconv.Itoa(c.Scans)})
					}
					fmt.Fprintln(out, "\nMost scanned")
					fmt.Fprintln(out, renderTable([]string{"Card", "Scans"}, rows, []columnAlignment{alignLeft, alignRight}))
				}
			}

			if recent > 0 {
				scans, err := st.RecentScans(cmd.Context(), recent)
				if err != nil {
					return err
				}
				if len(scans) > 0 {
					rows := make([][]string, 0, len(scans))
					for _, s := range scans {
						rows = append(rows, []string{
							s.At.Local().Format(time.DateTime), s.CardID, s.SessionID,
							strconv.FormatFloat(s.Confidence, 'f', 2, 64), strconv.Itoa(s.Inliers),
						})
					}
					fmt.Fprintln(out, "\nRecent scans")
					fmt.Fprintln(out, renderTable([]string{"When", "Card", "Session", "Confidence", "Inliers"}, rows,
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight}))
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&top, "top", 10, "Show the most scanned cards")
	cmd.Flags().IntVar(&recent, "recent", 10, "Show the latest scans")
	return cmd
}
