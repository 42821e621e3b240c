package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordExample(t *testing.T) {
	r := NewRegistry("visualmesh")

	r.RecordExample("project", nil, 10*time.Millisecond)
	r.RecordExample("project", nil, 10*time.Millisecond)
	r.RecordExample("project", errors.New("boom"), time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ExamplesTotal.WithLabelValues("project", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ExamplesTotal.WithLabelValues("project", "error")))
}

func TestRecordBatch(t *testing.T) {
	r := NewRegistry("visualmesh")
	r.RecordBatch(4, 1200, time.Millisecond)
	r.SetPrefetchDepth(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.BatchesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.PrefetchDepth))

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["visualmesh_batch_nodes"])
	assert.True(t, names["visualmesh_batches_total"])
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.RecordExample("project", nil, time.Second)
		r.RecordBatch(1, 1, time.Second)
		r.RecordForward(time.Second)
		r.SetPrefetchDepth(1)
	})
}

func TestHandler(t *testing.T) {
	r := NewRegistry("visualmesh")
	r.RecordForward(20 * time.Millisecond)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "visualmesh_forward_duration_seconds_count 1")
}
