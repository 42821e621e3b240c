package main

import (
	"image"
	"io"
	"math/rand/v2"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/setanarut/visualmesh/dataset"
	"github.com/setanarut/visualmesh/dataset/hexmesh"
	"github.com/setanarut/visualmesh/observability"
	"github.com/setanarut/visualmesh/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRenderCmd(a *app) *cobra.Command {
	var (
		count  int
		outDir string
		truth  bool
		radius int
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Draw mesh nodes coloured by prediction or label",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			opt, err := a.cfg.Dataset.Options()
			if err != nil {
				return err
			}
			src, err := a.source(ctx)
			if err != nil {
				return err
			}
			net, err := a.cfg.Network.Build()
			if err != nil {
				return err
			}
			projector := hexmesh.New()
			rng := rand.NewPCG(opt.Seed, 0)
			ro := utils.DefaultRenderOptions()
			ro.Radius = radius

			var images []image.Image
			for range count {
				r, err := src.Next(ctx)
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				ex, err := dataset.ProjectRecord(ctx, projector, opt.Geometry, dataset.MeshVariants{}, r, rng)
				if err != nil {
					return err
				}
				b, err := dataset.Assemble([]dataset.Example{ex}, opt.Classes, dataset.ImageVariants{}, rng)
				if err != nil {
					return err
				}
				probs := b.Y
				if !truth {
					out, err := net.Forward(b.X, b.G)
					if err != nil {
						return errors.Wrapf(err, "record %s", r.Name)
					}
					probs = out.Probabilities
				}
				img, err := dataset.DecodeImage(r.Image)
				if err != nil {
					return err
				}
				rendered, err := utils.RenderPredictions(img, b.Px, probs, opt.Classes, ro)
				if err != nil {
					return err
				}
				images = append(images, rendered)
				logger.Debug("Rendered record", zap.String("record", r.Name), zap.Int("nodes", b.X.N))
			}
			prefix := "prediction"
			if truth {
				prefix = "truth"
			}
			if err := utils.SaveImages(images, outDir, prefix); err != nil {
				return err
			}
			logger.Info("Rendered records", zap.Int("count", len(images)), zap.String("dir", filepath.Clean(outDir)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "records to render")
	cmd.Flags().StringVarP(&outDir, "out", "o", "render", "output directory")
	cmd.Flags().BoolVar(&truth, "truth", false, "colour nodes by their mask labels instead of predictions")
	cmd.Flags().IntVar(&radius, "radius", 1, "half width of each node marker in pixels")
	return cmd
}
