package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cardscan/internal/config"
	"cardscan/internal/ingest"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var imagesDir string
	var force bool
	var concurrency int

	cmd := &cobra.Command{
		Use:   "ingest [manifest]",
		Short: "Build the card catalog from a manifest and reference images",
		Long: `Reads a LorcanaJSON-style manifest ({"cards": [...]}) and, for every card,
extracts matching data from <images_dir>/<setCode>-<number>.<ext>.
Cards that already carry matching data only get their metadata refreshed
unless --force is given. The serving catalog is reloaded afterwards.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			manifest := cfg.Paths.Manifest
			if len(args) == 1 {
				if manifest, err = config.ExpandPath(args[0]); err != nil {
					return err
				}
			}
			if strings.TrimSpace(manifest) == "" {
				return errors.New("no manifest given; pass a path or set paths.manifest")
			}
			if imagesDir != "" {
				if cfg.Paths.ImagesDir, err = config.ExpandPath(imagesDir); err != nil {
					return err
				}
			}
			if concurrency > 0 {
				cfg.Ingest.Concurrency = concurrency
			}

			cards, err := ingest.ReadManifest(manifest)
			if err != nil {
				return err
			}
			engine, err := ctx.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			report, err := engine.Ingest(cmd.Context(), cards, force)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cards in manifest: %d\n", report.Total)
			fmt.Fprintf(out, "Features computed: %d\n", report.Computed)
			fmt.Fprintf(out, "Metadata refreshed: %d\n", report.MetadataOnly)
			fmt.Fprintf(out, "Failed: %d\n", len(report.Failed))
			if len(report.Failed) > 0 {
				rows := make([][]string, 0, len(report.Failed))
				for _, f := range report.Failed {
					rows = append(rows, []string{f.ID, f.Err.Error()})
				}
				fmt.Fprintln(out, renderTable([]string{"Card", "Error"}, rows, nil))
			}
			fmt.Fprintf(out, "Catalog: %d cards (version %d)\n",
				engine.Handle().Current().Len(), engine.Handle().Current().Version())
			return nil
		},
	}

	cmd.Flags().StringVar(&imagesDir, "images", "", "Directory of reference images (overrides paths.images_dir)")
	cmd.Flags().BoolVar(&force, "force", false, "Recompute features for cards that already have them")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel feature extractions (overrides ingest.concurrency)")
	return cmd
}
