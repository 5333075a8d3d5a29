package cloudmetrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func gatherAccountingFamilies(t *testing.T) (*CloudMetrics, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	c := New(registry, nil, "install-1", "1.2.3", zap.NewNop())
	c.SetTenantsForPlan("FREE", 12)
	c.SetTenantsForPlan("INDIE", 3)
	c.SetVerifiedDomains(2)
	c.SetUsageTotal(4096)
	return c, registry
}

func TestBuildRemoteWriteSeriesStampsIdentityLabels(t *testing.T) {
	_, registry := gatherAccountingFamilies(t)

	families, err := registry.Gather()
	require.NoError(t, err)

	series := buildRemoteWriteSeries(families, map[string]string{
		"app":         "sendora",
		"environment": "production",
	}, 1700000000000)
	require.NotEmpty(t, series)

	for _, ts := range series {
		labels := map[string]string{}
		for i, label := range ts.Labels {
			labels[label.Name] = label.Value
			if i > 0 {
				require.Less(t, ts.Labels[i-1].Name, label.Name, "labels must be sorted for remote write")
			}
		}
		require.Equal(t, "sendora", labels["app"])
		require.Equal(t, "production", labels["environment"])
		require.Equal(t, "install-1", labels["instance_id"])
		require.NotEmpty(t, labels["__name__"])
	}
}

func TestBuildRemoteWriteSeriesNeverOverridesSeriesLabels(t *testing.T) {
	_, registry := gatherAccountingFamilies(t)

	families, err := registry.Gather()
	require.NoError(t, err)

	// instance_id already rides on every gauge as a const label.
	series := buildRemoteWriteSeries(families, map[string]string{
		"instance_id": "imposter",
	}, 1700000000000)
	require.NotEmpty(t, series)

	for _, ts := range series {
		for _, label := range ts.Labels {
			if label.Name == "instance_id" {
				require.Equal(t, "install-1", label.Value)
			}
		}
	}
}

func TestRemoteWritePusherSendsSnappyProtobuf(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	_, registry := gatherAccountingFamilies(t)
	pusher := NewRemoteWritePusher(server.URL, "secret-token", "1.2.3", map[string]string{"app": "sendora"})

	require.NoError(t, pusher.Push(context.Background(), registry))
	require.Equal(t, "application/x-protobuf", got.Get("Content-Type"))
	require.Equal(t, "snappy", got.Get("Content-Encoding"))
	require.Equal(t, "sendora/1.2.3", got.Get("User-Agent"))
	require.Equal(t, "Bearer secret-token", got.Get("Authorization"))
}

func TestRemoteWritePusherSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, registry := gatherAccountingFamilies(t)
	pusher := NewRemoteWritePusher(server.URL, "", "1.2.3", nil)

	err := pusher.Push(context.Background(), registry)
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
}
