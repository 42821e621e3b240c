package dataset

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/setanarut/visualmesh/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testOptions() Options {
	opt := DefaultOptions()
	opt.Classes = testClasses
	opt.Geometry = testGeometry()
	opt.BatchSize = 2
	opt.Workers = 2
	opt.Seed = 42
	return opt
}

func testRecords(t *testing.T, n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = testRecord(t, fmt.Sprintf("r%d", i), 8+i, 6)
	}
	return records
}

// endlessSource repeats one record forever and counts reads.
type endlessSource struct {
	record Record
	reads  atomic.Int64
}

func (s *endlessSource) Next(ctx context.Context) (Record, error) {
	s.reads.Add(1)
	return s.record, ctx.Err()
}

type failingSource struct{}

func (failingSource) Next(context.Context) (Record, error) {
	return Record{}, errors.New("disk on fire")
}

func TestNewValidates(t *testing.T) {
	src := NewSliceSource()

	_, err := New(testOptions(), src, nil)
	assert.True(t, errors.Is(err, ErrProjectorUnavailable))

	opt := testOptions()
	opt.Geometry.Shape = "CUBE"
	_, err = New(opt, src, gridProjector(2))
	assert.True(t, errors.Is(err, ErrUnknownGeometry))

	opt = testOptions()
	opt.Classes = nil
	_, err = New(opt, src, gridProjector(2))
	assert.True(t, errors.Is(err, ErrNoClasses))

	opt = testOptions()
	opt.BatchSize = 0
	_, err = New(opt, src, gridProjector(2))
	assert.Error(t, err)

	opt = testOptions()
	opt.Workers, opt.Prefetch, opt.Seed = 0, 0, 0
	d, err := New(opt, src, gridProjector(2))
	require.NoError(t, err)
	assert.Positive(t, d.Options().Workers)
	assert.Equal(t, 2, d.Options().Prefetch)
	assert.NotZero(t, d.Options().Seed)
}

func TestRunDeliversEveryExample(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	reg := metrics.NewRegistry("visualmesh")
	opt := testOptions()
	opt.ShuffleSize = 3
	opt.Image = ImageVariants{Brightness: &Variant{StdDev: 0.05}}
	opt.Mesh = MeshVariants{Height: &Variant{StdDev: 0.01}}

	d, err := New(opt, NewSliceSource(testRecords(t, 5)...), gridProjector(2),
		WithLogger(zap.New(core)), WithMetrics(reg))
	require.NoError(t, err)

	var mu sync.Mutex
	names := map[string]bool{}
	batches := 0
	err = d.Run(context.Background(), func(ctx context.Context, b Batch) error {
		mu.Lock()
		defer mu.Unlock()
		batches++
		assert.LessOrEqual(t, len(b.N), 2)
		assert.Equal(t, b.X.N, b.Y.N)
		assert.Len(t, b.W, b.X.N)
		assert.Len(t, b.G, b.X.N)
		total := 0
		for i, n := range b.N {
			total += n
			names[b.Names[i]] = true
		}
		assert.Equal(t, b.X.N, total)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 3, batches, "the last batch is partial")
	assert.Len(t, names, 5)
	assert.Equal(t, 3.0, testutil.ToFloat64(reg.BatchesTotal))
	assert.Equal(t, 5.0, testutil.ToFloat64(reg.ExamplesTotal.WithLabelValues("project", "ok")))
	assert.Equal(t, 3, logs.FilterMessage("Assembled batch").Len())
}

func TestRunEmptySource(t *testing.T) {
	d, err := New(testOptions(), NewSliceSource(), gridProjector(2))
	require.NoError(t, err)
	called := false
	require.NoError(t, d.Run(context.Background(), func(context.Context, Batch) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}

func TestRunConsumerError(t *testing.T) {
	d, err := New(testOptions(), NewSliceSource(testRecords(t, 6)...), gridProjector(2))
	require.NoError(t, err)

	stop := errors.New("enough")
	calls := 0
	err = d.Run(context.Background(), func(context.Context, Batch) error {
		calls++
		return stop
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, calls)
}

func TestRunStageErrors(t *testing.T) {
	d, err := New(testOptions(), failingSource{}, gridProjector(2))
	require.NoError(t, err)
	err = d.Run(context.Background(), func(context.Context, Batch) error { return nil })
	assert.ErrorContains(t, err, "disk on fire")

	broken := ProjectorFunc(func(ctx context.Context, req ProjectionRequest) (Projected, error) {
		return Projected{}, ErrBadProjection
	})
	d, err = New(testOptions(), NewSliceSource(testRecords(t, 3)...), broken)
	require.NoError(t, err)
	err = d.Run(context.Background(), func(context.Context, Batch) error { return nil })
	assert.True(t, errors.Is(err, ErrBadProjection))
}

func TestRunBackpressure(t *testing.T) {
	src := &endlessSource{record: testRecord(t, "loop", 8, 6)}
	opt := testOptions()
	opt.Workers = 1
	opt.Prefetch = 1
	d, err := New(opt, src, gridProjector(4))
	require.NoError(t, err)

	var seen int64
	err = d.Run(context.Background(), func(ctx context.Context, b Batch) error {
		// Give the producers time to fill every buffer.
		time.Sleep(200 * time.Millisecond)
		seen = src.reads.Load()
		return errors.New("stop")
	})
	require.Error(t, err)
	assert.Less(t, seen, int64(64), "producers must block on a slow consumer")
}

func TestRunCancellation(t *testing.T) {
	src := &endlessSource{record: testRecord(t, "loop", 8, 6)}
	d, err := New(testOptions(), src, gridProjector(4))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	batches := 0
	err = d.Run(ctx, func(ctx context.Context, b Batch) error {
		batches++
		if batches == 3 {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, batches, 3)
}
