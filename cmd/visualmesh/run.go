package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/setanarut/visualmesh"
	"github.com/setanarut/visualmesh/dataset"
	"github.com/setanarut/visualmesh/dataset/hexmesh"
	"github.com/setanarut/visualmesh/metrics"
	"github.com/setanarut/visualmesh/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(a *app) *cobra.Command {
	var maxBatches int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream batches through the network and report their scores",
		Long: `Reads records from the configured source, projects a hexagonal mesh over
each image, assembles batches with the configured variants and runs the
network's forward pass on every batch, logging accuracy and cross entropy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			var reg *metrics.Registry
			if a.cfg.Metrics.Enabled {
				reg = metrics.NewRegistry(a.cfg.Metrics.Namespace)
				if a.cfg.Metrics.Listen != "" {
					stop := serveMetrics(a.cfg.Metrics.Listen, reg, logger)
					defer stop()
				}
			}

			opt, err := a.cfg.Dataset.Options()
			if err != nil {
				return err
			}
			src, err := a.source(ctx)
			if err != nil {
				return err
			}
			ds, err := dataset.New(opt, src, hexmesh.New(), dataset.WithLogger(logger), dataset.WithMetrics(reg))
			if err != nil {
				return err
			}
			net, err := a.cfg.Network.Build()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			batches := 0
			err = ds.Run(ctx, func(ctx context.Context, b dataset.Batch) error {
				start := time.Now()
				out, err := net.Forward(b.X, b.G)
				if err != nil {
					return errors.Wrapf(err, "batch %s", b.ID)
				}
				reg.RecordForward(time.Since(start))
				score, err := visualmesh.Evaluate(out.Probabilities, b.Y, b.W)
				if err != nil {
					return err
				}
				logger.Info("Batch scored",
					zap.Stringer("batch_id", b.ID),
					zap.Int("examples", len(b.N)),
					zap.Int("nodes", b.X.N),
					zap.Float64("accuracy", score.Accuracy),
					zap.Float64("cross_entropy", score.CrossEntropy))
				batches++
				if maxBatches > 0 && batches >= maxBatches {
					cancel()
				}
				return nil
			})
			if errors.Is(err, context.Canceled) && maxBatches > 0 && batches >= maxBatches {
				err = nil
			}
			logger.Info("Run finished", zap.Int("batches", batches))
			return err
		},
	}
	cmd.Flags().IntVarP(&maxBatches, "batches", "n", 0, "stop after this many batches (0 reads the whole source)")
	return cmd
}

// serveMetrics exposes reg on addr until the returned stop func is called.
func serveMetrics(addr string, reg *metrics.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
