package dataset

import (
	"context"
	"io"
	"math/rand/v2"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/setanarut/visualmesh/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Classes  Classes
	Geometry Geometry
	// Examples per batch. The final batch may be smaller.
	BatchSize int
	// Records held for shuffling before projection. 0 disables shuffling.
	ShuffleSize int
	// Goroutines for the projection and assembly stages. <= 0 uses NumCPU.
	Workers int
	// Batches buffered ahead of the consumer. <= 0 uses 2.
	Prefetch int
	// Seed for shuffling and variant draws. 0 picks a random seed.
	Seed  uint64
	Mesh  MeshVariants
	Image ImageVariants
}

func DefaultOptions() Options {
	return Options{
		BatchSize: 20,
		Workers:   runtime.NumCPU(),
		Prefetch:  2,
	}
}

type Option func(*Dataset)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Dataset) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(r *metrics.Registry) Option {
	return func(d *Dataset) { d.metrics = r }
}

// Dataset streams flattened batches from a record source.
//
// Records are shuffled, projected by a bounded pool of workers, grouped into
// batches and assembled by the same number of workers. Every stage is a pure
// function of its input plus fresh random draws, so batch order and
// composition are not deterministic once more than one worker runs.
type Dataset struct {
	opt       Options
	src       Source
	projector Projector
	logger    *zap.Logger
	metrics   *metrics.Registry
	seq       atomic.Uint64
}

// New validates the options and wires the pipeline. A missing projector or
// an invalid geometry or class set is fatal.
func New(opt Options, src Source, projector Projector, opts ...Option) (*Dataset, error) {
	if projector == nil {
		return nil, ErrProjectorUnavailable
	}
	if src == nil {
		return nil, errors.New("dataset needs a record source")
	}
	if err := opt.Geometry.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid geometry")
	}
	if err := opt.Classes.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid classes")
	}
	if opt.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", opt.BatchSize)
	}
	if opt.ShuffleSize < 0 {
		return nil, errors.Errorf("shuffle size must not be negative, got %d", opt.ShuffleSize)
	}
	if opt.Workers <= 0 {
		opt.Workers = runtime.NumCPU()
	}
	if opt.Prefetch <= 0 {
		opt.Prefetch = 2
	}
	if opt.Seed == 0 {
		opt.Seed = rand.Uint64()
	}

	d := &Dataset{
		opt:       opt,
		src:       src,
		projector: projector,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

func (d *Dataset) Options() Options { return d.opt }

// random returns a fresh stream for one stage invocation.
func (d *Dataset) random() rand.Source {
	return rand.NewPCG(d.opt.Seed, d.seq.Add(1))
}

// Run streams batches into fn until the source is exhausted, fn fails or ctx
// is cancelled. At most Prefetch assembled batches wait for fn; beyond that
// the pipeline blocks.
func (d *Dataset) Run(ctx context.Context, fn func(context.Context, Batch) error) error {
	g, ctx := errgroup.WithContext(ctx)

	records := make(chan Record)
	g.Go(func() error {
		defer close(records)
		return d.read(ctx, records)
	})

	shuffled := records
	if d.opt.ShuffleSize > 0 {
		out := make(chan Record)
		g.Go(func() error {
			defer close(out)
			return d.shuffle(ctx, records, out)
		})
		shuffled = out
	}

	examples := make(chan Example, d.opt.BatchSize*2)
	g.Go(func() error {
		defer close(examples)
		return d.project(ctx, shuffled, examples)
	})

	groups := make(chan []Example)
	g.Go(func() error {
		defer close(groups)
		return d.group(ctx, examples, groups)
	})

	batches := make(chan Batch, d.opt.Prefetch)
	g.Go(func() error {
		defer close(batches)
		return d.assemble(ctx, groups, batches)
	})

	g.Go(func() error {
		for b := range batches {
			d.metrics.SetPrefetchDepth(len(batches))
			if err := fn(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

func (d *Dataset) read(ctx context.Context, out chan<- Record) error {
	for {
		r, err := d.src.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading record")
		}
		select {
		case out <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// shuffle keeps a buffer of records and emits a random one each time a new
// record arrives, then drains the buffer in random order.
func (d *Dataset) shuffle(ctx context.Context, in <-chan Record, out chan<- Record) error {
	rng := rand.New(d.random())
	buf := make([]Record, 0, d.opt.ShuffleSize)
	emit := func() error {
		i := rng.IntN(len(buf))
		r := buf[i]
		buf[i] = buf[len(buf)-1]
		buf = buf[:len(buf)-1]
		select {
		case out <- r:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for r := range in {
		buf = append(buf, r)
		if len(buf) < d.opt.ShuffleSize {
			continue
		}
		if err := emit(); err != nil {
			return err
		}
	}
	for len(buf) > 0 {
		if err := emit(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dataset) project(ctx context.Context, in <-chan Record, out chan<- Example) error {
	g, ctx := errgroup.WithContext(ctx)
	for range d.opt.Workers {
		g.Go(func() error {
			for r := range in {
				start := time.Now()
				ex, err := ProjectRecord(ctx, d.projector, d.opt.Geometry, d.opt.Mesh, r, d.random())
				d.metrics.RecordExample("project", err, time.Since(start))
				if err != nil {
					return err
				}
				select {
				case out <- ex:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *Dataset) group(ctx context.Context, in <-chan Example, out chan<- []Example) error {
	send := func(b []Example) error {
		select {
		case out <- b:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	buf := make([]Example, 0, d.opt.BatchSize)
	for ex := range in {
		buf = append(buf, ex)
		if len(buf) == d.opt.BatchSize {
			if err := send(buf); err != nil {
				return err
			}
			buf = make([]Example, 0, d.opt.BatchSize)
		}
	}
	if len(buf) > 0 {
		return send(buf)
	}
	return nil
}

func (d *Dataset) assemble(ctx context.Context, in <-chan []Example, out chan<- Batch) error {
	g, ctx := errgroup.WithContext(ctx)
	for range d.opt.Workers {
		g.Go(func() error {
			for examples := range in {
				start := time.Now()
				b, err := Assemble(examples, d.opt.Classes, d.opt.Image, d.random())
				if err != nil {
					return errors.Wrap(err, "assembling batch")
				}
				d.metrics.RecordBatch(len(b.N), b.X.N, time.Since(start))
				d.logger.Debug("Assembled batch",
					zap.Stringer("batch_id", b.ID),
					zap.Int("examples", len(b.N)),
					zap.Int("nodes", b.X.N))
				if n := b.Unlabeled(); n > 0 {
					d.logger.Warn("Mask colours match no class",
						zap.Stringer("batch_id", b.ID),
						zap.Int("nodes", n))
				}
				select {
				case out <- b:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	return g.Wait()
}
