package api

import (
	"bytes"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtype/internal/journal"
	"rtype/internal/network"
)

func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]float64, len(families))
	for _, mf := range families {
		m := mf.GetMetric()[0]
		if c := m.GetCounter(); c != nil {
			out[mf.GetName()] = c.GetValue()
		} else if g := m.GetGauge(); g != nil {
			out[mf.GetName()] = g.GetValue()
		}
	}
	return out
}

// TestJournalMetricsReportDrops fills a two-slot journal with three entries
// so one is overwritten.
func TestJournalMetricsReportDrops(t *testing.T) {
	j := journal.New(journal.Config{BufferSize: 2, FlushInterval: time.Hour})
	require.NoError(t, j.StartWriter(&bytes.Buffer{}))
	defer j.Stop()
	for i := range 3 {
		j.Record(journal.NewEntry(journal.KindClientJoined, "", uint32(i+1), 0, nil))
	}

	reg := prometheus.NewRegistry()
	RegisterJournalMetrics(reg, j.Stats)
	RegisterJournalMetrics(reg, j.Stats)

	got := gathered(t, reg)
	assert.Equal(t, 3.0, got["rtype_journal_entries_total"])
	assert.Equal(t, 1.0, got["rtype_journal_dropped_total"])
	assert.Equal(t, 2.0, got["rtype_journal_pending"])
}

func TestTransportMetricsReadAtScrape(t *testing.T) {
	st := network.Stats{Clients: 2, PacketsIn: 10, RateLimited: 3}
	reg := prometheus.NewRegistry()
	RegisterTransportMetrics(reg, func() network.Stats { return st })

	got := gathered(t, reg)
	assert.Equal(t, 2.0, got["rtype_transport_clients"])
	assert.Equal(t, 10.0, got["rtype_transport_packets_in_total"])

	st.RateLimited = 5
	assert.Equal(t, 5.0, gathered(t, reg)["rtype_transport_rate_limited_total"])
}
