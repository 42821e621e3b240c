package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/setanarut/visualmesh/config"
	"github.com/setanarut/visualmesh/dataset"
	"github.com/setanarut/visualmesh/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set at build time.
var Version = "dev"

type app struct {
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "visualmesh",
		Short:         "Stream visual mesh batches and run the graph network over them",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(a.cfgFile)
			if err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "visualmesh"})
				return errors.Wrap(err, "invalid configuration")
			}
			a.cfg = cfg
			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded", zap.String("file", a.cfgFile))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (yaml)")

	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newInspectCmd(a))
	rootCmd.AddCommand(newRenderCmd(a))
	return rootCmd
}

// source opens the configured record source.
func (a *app) source(ctx context.Context) (dataset.Source, error) {
	sc := a.cfg.Source
	if sc.Kind == "dir" && dataset.IsS3URI(sc.Dir) {
		bucket, prefix, err := dataset.ParseS3URI(sc.Dir)
		if err != nil {
			return nil, err
		}
		sc.Kind, sc.Bucket, sc.Prefix = "s3", bucket, prefix
	}
	switch sc.Kind {
	case "s3":
		client, err := dataset.NewS3Client(ctx, sc.Region)
		if err != nil {
			return nil, err
		}
		return dataset.NewS3Source(client, sc.Bucket, sc.Prefix), nil
	default:
		return dataset.NewDirSource(sc.Dir)
	}
}

// Execute runs the root command, logging failures other than cancellation.
func Execute(ctx context.Context) error {
	err := newRootCmd().ExecuteContext(ctx)
	defer observability.Sync()
	if err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
