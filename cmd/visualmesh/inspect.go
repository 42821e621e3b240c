package main

import (
	"context"
	"fmt"
	"io"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"github.com/setanarut/visualmesh/dataset"
	"github.com/setanarut/visualmesh/observability"
	"github.com/setanarut/visualmesh/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		limit   int
		colours int
		method  string
		swatch  string
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Check label masks against the configured classes",
		Long: `Counts mask pixels per configured class, lists opaque colours that match no
class and extracts a palette from the masks so near misses (anti-aliased
edges, re-encoded masks) can be spotted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			pm, err := utils.ParsePaletteMethod(method)
			if err != nil {
				return err
			}
			classes, err := a.cfg.Dataset.ClassSet()
			if err != nil {
				return err
			}
			src, err := a.source(ctx)
			if err != nil {
				return err
			}

			stats, palette, records, err := inspectMasks(ctx, src, classes, limit, colours, pm, logger)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), records, stats, utils.MatchPalette(palette, classes), classes)
			if swatch != "" && len(palette) > 0 {
				utils.SortPaletteByBrightness(palette)
				return utils.SavePalette(palette, 64, swatch)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "masks to read (0 reads the whole source)")
	cmd.Flags().IntVarP(&colours, "colours", "k", 8, "palette colours to extract per mask")
	cmd.Flags().StringVar(&method, "method", "dominantcolor", "palette method: dominantcolor or kmeans")
	cmd.Flags().StringVar(&swatch, "swatch", "", "write the discovered palette to this png")
	return cmd
}

func inspectMasks(ctx context.Context, src dataset.Source, classes dataset.Classes, limit, k int,
	method utils.PaletteMethod, logger *zap.Logger) (utils.MaskStats, []colorful.Color, int, error) {
	var stats utils.MaskStats
	var palette []colorful.Color
	seen := map[string]bool{}
	records := 0
	for limit <= 0 || records < limit {
		r, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, nil, records, err
		}
		mask, err := dataset.DecodeImage(r.Mask)
		if err != nil {
			return stats, nil, records, errors.Wrapf(err, "record %s: decoding mask", r.Name)
		}
		s := utils.CountMask(mask, classes)
		if s.Unmatched > 0 {
			logger.Warn("Mask colours match no class", zap.String("record", r.Name), zap.Int("pixels", s.Unmatched))
		}
		stats.Merge(s)
		for _, c := range utils.ExtractPalette(mask, k, method, logger) {
			if hex := c.Hex(); !seen[hex] {
				seen[hex] = true
				palette = append(palette, c)
			}
		}
		records++
	}
	return stats, palette, records, nil
}

func printReport(w io.Writer, records int, stats utils.MaskStats, matches []utils.PaletteMatch, classes dataset.Classes) {
	fmt.Fprintf(w, "%d masks, %d pixels, %d transparent, %d unmatched\n",
		records, stats.Total, stats.Transparent, stats.Unmatched)
	for i, c := range classes {
		n := 0
		if i < len(stats.Counts) {
			n = stats.Counts[i]
		}
		fmt.Fprintf(w, "  %-16s %v %10d\n", c.Name, c.Colour, n)
	}
	if len(stats.Unknown) > 0 {
		fmt.Fprintln(w, "unmatched colours:")
		for rgb, n := range stats.Unknown {
			fmt.Fprintf(w, "  %v %10d\n", rgb, n)
		}
	}
	fmt.Fprintln(w, "palette:")
	for _, m := range matches {
		status := "exact"
		if !m.Exact {
			status = fmt.Sprintf("nearest, distance %.3f", m.Distance)
		}
		fmt.Fprintf(w, "  %s -> %s (%s)\n", m.Colour.Hex(), m.Class, status)
	}
}
