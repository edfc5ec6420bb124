package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"cardscan/internal/app"
	"cardscan/internal/frame"
	"cardscan/internal/identify"
	"cardscan/pkg/geometry"
)

type identifyReport struct {
	Image      string          `json:"image"`
	Kind       string          `json:"kind"`
	CardID     string          `json:"card_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Confidence float64         `json:"confidence"`
	Inliers    int             `json:"inliers"`
	Outline    *geometry.Quad  `json:"outline,omitempty"`
	Located    bool            `json:"located"`
	Candidates []candidateJSON `json:"candidates,omitempty"`
	Error      string          `json:"error,omitempty"`
	FailedAt   string          `json:"failed_at,omitempty"`
	ElapsedMS  float64         `json:"elapsed_ms"`
}

type candidateJSON struct {
	CardID   string `json:"card_id"`
	Distance int    `json:"distance"`
}

func newIdentifyCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var session string
	var showCandidates bool

	cmd := &cobra.Command{
		Use:   "identify <image>...",
		Short: "Identify the card in one or more photos",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ctx.openEngine(cmd.Context())
			if err != nil {
				return err
			}

			reports := make([]identifyReport, 0, len(args))
			for _, path := range args {
				reports = append(reports, identifyImage(cmd, engine, path, session))
			}

			if jsonOut {
				return writeJSON(cmd, reports)
			}
			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(reports))
			for _, r := range reports {
				result := r.Kind
				if r.Error != "" {
					result = fmt.Sprintf("%s at %s: %s", r.Kind, r.FailedAt, r.Error)
				}
				rows = append(rows, []string{
					r.Image, result, r.CardID, r.Name,
					strconv.FormatFloat(r.Confidence, 'f', 2, 64),
					strconv.Itoa(r.Inliers),
					strconv.FormatFloat(r.ElapsedMS, 'f', 1, 64),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Image", "Result", "Card", "Name", "Confidence", "Inliers", "ms"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			if showCandidates {
				for _, r := range reports {
					if len(r.Candidates) == 0 {
						continue
					}
					crow := make([][]string, 0, len(r.Candidates))
					for i, c := range r.Candidates {
						crow = append(crow, []string{strconv.Itoa(i + 1), c.CardID, strconv.Itoa(c.Distance)})
					}
					fmt.Fprintf(out, "\nCandidates for %s\n", r.Image)
					fmt.Fprintln(out, renderTable([]string{"#", "Card", "Hash distance"}, crow,
						[]columnAlignment{alignRight, alignLeft, alignRight}))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print results as JSON")
	cmd.Flags().StringVar(&session, "session", "cli", "Session id recorded with scans")
	cmd.Flags().BoolVar(&showCandidates, "candidates", false, "Show the hash shortlist for each image")
	return cmd
}

func identifyImage(cmd *cobra.Command, engine *app.Engine, path, session string) identifyReport {
	report := identifyReport{Image: path}
	start := time.Now()
	f, err := frame.Load(path, session)
	if err != nil {
		report.Kind = identify.KindFailed.String()
		report.Error = err.Error()
		report.FailedAt = identify.StageReceived.String()
		return report
	}

	out, card := engine.IdentifyCard(cmd.Context(), f)
	report.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000
	report.Kind = out.Kind.String()
	report.Confidence = out.Result.Confidence
	report.Inliers = out.Result.Inliers
	report.Outline = out.Result.Outline
	report.Located = out.Trace.Located
	for _, c := range out.Trace.Candidates {
		report.Candidates = append(report.Candidates, candidateJSON{CardID: c.ID, Distance: c.Distance})
	}
	if out.Err != nil {
		report.Error = out.Err.Error()
		report.FailedAt = out.FailedAt.String()
	}
	if out.Result.Found() {
		report.CardID = out.Result.ID
	}
	if card != nil {
		report.Name = card.DisplayName()
	}
	return report
}
