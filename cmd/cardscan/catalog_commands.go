package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cardscan/internal/catalog"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the loaded card catalog",
	}
	catalogCmd.AddCommand(newCatalogListCommand(ctx))
	catalogCmd.AddCommand(newCatalogShowCommand(ctx))
	catalogCmd.AddCommand(newCatalogFindCommand(ctx))
	return catalogCmd
}

func withIndex(cmd *cobra.Command, ctx *commandContext, fn func(*catalog.Index) error) error {
	engine, err := ctx.openEngine(cmd.Context())
	if err != nil {
		return err
	}
	lease, err := engine.Handle().Acquire()
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease.Index())
}

func cardRows(cards []*catalog.CardReference) [][]string {
	rows := make([][]string, 0, len(cards))
	for _, c := range cards {
		rows = append(rows, []string{
			c.ID,
			c.DisplayName(),
			c.Metadata[catalog.MetaRarity],
			strconv.Itoa(len(c.Keypoints)),
		})
	}
	return rows
}

func printCards(cmd *cobra.Command, cards []*catalog.CardReference) {
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"ID", "Name", "Rarity", "Keypoints"},
		cardRows(cards),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
	))
}

func newCatalogListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog cards in load order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndex(cmd, ctx, func(idx *catalog.Index) error {
				cards := idx.Entries()
				if limit > 0 && len(cards) > limit {
					cards = cards[:limit]
				}
				if jsonOut {
					return writeJSON(cmd, cardSummaries(cards))
				}
				printCards(cmd, cards)
				fmt.Fprintf(cmd.OutOrStdout(), "%d cards, catalog version %d, %d-bit hashes\n",
					idx.Len(), idx.Version(), idx.HashBits())
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many cards")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print as JSON")
	return cmd
}

func newCatalogShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndex(cmd, ctx, func(idx *catalog.Index) error {
				card, err := idx.Lookup(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:         %s\n", card.ID)
				fmt.Fprintf(out, "Name:       %s\n", card.DisplayName())
				fmt.Fprintf(out, "Set:        %s\n", card.SetCode)
				fmt.Fprintf(out, "Image:      %s (%dx%d)\n", card.ImagePath, card.Width, card.Height)
				fmt.Fprintf(out, "Keypoints:  %d\n", len(card.Keypoints))
				fmt.Fprintf(out, "Hash:       %s\n", card.Hash.Hex())
				for _, key := range slices.Sorted(maps.Keys(card.Metadata)) {
					fmt.Fprintf(out, "%-11s %s\n", key+":", card.Metadata[key])
				}
				return nil
			})
		},
	}
}

func newCatalogFindCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "find <name>",
		Short: "Find cards by name or subtitle",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndex(cmd, ctx, func(idx *catalog.Index) error {
				cards := idx.FindByName(strings.Join(args, " "))
				if jsonOut {
					return writeJSON(cmd, cardSummaries(cards))
				}
				if len(cards) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No cards found")
					return nil
				}
				printCards(cmd, cards)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print as JSON")
	return cmd
}

type cardSummary struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Subtitle  string            `json:"subtitle,omitempty"`
	SetCode   string            `json:"set_code"`
	Keypoints int               `json:"keypoints"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func cardSummaries(cards []*catalog.CardReference) []cardSummary {
	out := make([]cardSummary, 0, len(cards))
	for _, c := range cards {
		out = append(out, cardSummary{
			ID:        c.ID,
			Name:      c.Name,
			Subtitle:  c.Subtitle,
			SetCode:   c.SetCode,
			Keypoints: len(c.Keypoints),
			Metadata:  c.Metadata,
		})
	}
	return out
}
