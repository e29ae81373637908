package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestNewRegistry_CountersStartAtZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)
	require.Equal(t, float64(0), counterValue(t, r.PacketsReceived))
}

func TestNewRegistry_IncrementsAreObservable(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)
	r.PacketsReceived.Inc()
	r.PacketsReceived.Add(3)
	require.Equal(t, float64(4), counterValue(t, r.PacketsReceived))
}

func TestNewRegistry_DropReasonsAreLabeled(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)
	r.PacketsDropped.WithLabelValues("ring_full").Inc()
	r.PacketsDropped.WithLabelValues("queue_work_full").Inc()
	r.PacketsDropped.WithLabelValues("ring_full").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, fam := range families {
		if fam.GetName() == "kbecho_packets_dropped_total" {
			found = true
			require.Len(t, fam.GetMetric(), 2)
		}
	}
	require.True(t, found)
}
