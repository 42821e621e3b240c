package config

import (
	"github.com/pkg/errors"
	"github.com/setanarut/visualmesh"
	"github.com/setanarut/visualmesh/dataset"
)

// ClassSet converts the class list, rejecting duplicate names or colours.
func (c DatasetConfig) ClassSet() (dataset.Classes, error) {
	classes := make(dataset.Classes, len(c.Classes))
	for i, cc := range c.Classes {
		if len(cc.Colour) != 3 {
			return nil, errors.Errorf("dataset.classes[%d]: colour needs 3 channels, got %d", i, len(cc.Colour))
		}
		classes[i] = dataset.Class{
			Name:   cc.Name,
			Colour: [3]uint8{uint8(cc.Colour[0]), uint8(cc.Colour[1]), uint8(cc.Colour[2])},
		}
	}
	if err := classes.Validate(); err != nil {
		return nil, errors.Wrap(err, "dataset.classes")
	}
	return classes, nil
}

func (g GeometryConfig) Geometry() (dataset.Geometry, error) {
	return dataset.NewGeometry(g.Shape, g.Radius, g.Intersections, g.MaxDistance, g.Height)
}

// Options converts the dataset section into pipeline options.
func (c DatasetConfig) Options() (dataset.Options, error) {
	classes, err := c.ClassSet()
	if err != nil {
		return dataset.Options{}, err
	}
	geo, err := c.Geometry.Geometry()
	if err != nil {
		return dataset.Options{}, errors.Wrap(err, "dataset.geometry")
	}
	opt := dataset.DefaultOptions()
	opt.Classes = classes
	opt.Geometry = geo
	opt.BatchSize = c.BatchSize
	opt.ShuffleSize = c.ShuffleSize
	if c.Workers > 0 {
		opt.Workers = c.Workers
	}
	if c.Prefetch > 0 {
		opt.Prefetch = c.Prefetch
	}
	opt.Seed = c.Seed
	opt.Mesh = c.Variants.Mesh
	opt.Image = c.Variants.Image
	return opt, nil
}

// Options converts the network section into build options.
func (n NetworkConfig) Options() visualmesh.Options {
	opt := visualmesh.DefaultOptions()
	opt.Seed = n.Seed
	if n.Workers > 0 {
		opt.Workers = n.Workers
	}
	return opt
}

// Build constructs a freshly initialised network from the network section.
func (n NetworkConfig) Build() (*visualmesh.Network, error) {
	return visualmesh.Build(visualmesh.Groups(n.Groups), n.Options())
}
