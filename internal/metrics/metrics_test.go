package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_MetricsRegistered(t *testing.T) {
	r := NewRegistry()
	r.FilesTotal.WithLabelValues("extraction", "ok").Inc()
	r.PacketsTotal.Add(3)

	families, err := r.Gather().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, expected := range []string{"pcapflow_files_total", "pcapflow_packets_total"} {
		assert.True(t, names[expected], "metric %s not registered", expected)
	}
}

func TestHandler_ServesScrape(t *testing.T) {
	r := NewRegistry()
	r.GraphMerges.Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "pcapflow_graph_merges_total 1")
}
