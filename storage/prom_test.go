package storage

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromBridgeExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()

	NewPromBridge(reg, m, "bustub", "buffer_pool", nil)

	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordPageEviction()
	m.RecordBucketSplit()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	values := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[mf.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[mf.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	expected := map[string]float64{
		"bustub_buffer_pool_cache_hits_total": 2,
		"bustub_buffer_pool_cache_misses_total": 1,
		"bustub_buffer_pool_page_evictions_total": 1,
		"bustub_buffer_pool_bucket_splits_total": 1,
	}

	for name, want := range expected {
		got, ok := values[name]
		if !ok {
			t.Errorf("Metric %s not exported", name)
			continue
		}
		if got != want {
			t.Errorf("Metric %s: expected %f, got %f", name, want, got)
		}
	}

	// 2 hits out of 3 fetches
	rate, ok := values["bustub_buffer_pool_cache_hit_rate"]
	if !ok {
		t.Fatal("Hit rate gauge not exported")
	}
	if rate < 0.66 || rate > 0.67 {
		t.Errorf("Expected hit rate near 2/3, got %f", rate)
	}
}

func TestPromBridgeTracksLiveValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()

	NewPromBridge(reg, m, "bustub", "buffer_pool", nil)

	// Values recorded after registration must show up on scrape
	if got := testutil.CollectAndCount(reg); got == 0 {
		t.Fatal("Expected registered collectors")
	}

	m.RecordDirtyPageFlush()
	m.RecordDirtyPageFlush()

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	for _, mf := range families {
		if mf.GetName() == "bustub_buffer_pool_dirty_page_flushes_total" {
			if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 2 {
				t.Errorf("Expected 2 flushes on scrape, got %f", got)
			}
			return
		}
	}
	t.Error("dirty_page_flushes_total not found")
}

func TestPromBridgeUnregister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()

	bridge := NewPromBridge(reg, m, "bustub", "buffer_pool", nil)
	bridge.Unregister(reg)

	// Re-registering with the same registry must not collide
	NewPromBridge(reg, m, "bustub", "buffer_pool", nil)
}

func TestPromBridgeWithBufferPool(t *testing.T) {
	reg := prometheus.NewRegistry()

	bpm := newTestBufferPool(t, 4, 2)
	NewPromBridge(reg, bpm.Metrics(), "bustub", "buffer_pool", prometheus.Labels{"pool": "test"})

	page, err := bpm.NewPage()
	if err != nil {
		t.Fatal(err)
	}
	bpm.UnpinPage(page.ID(), false)
	if _, err := bpm.FetchPage(page.ID()); err != nil {
		t.Fatal(err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	for _, mf := range families {
		if mf.GetName() == "bustub_buffer_pool_cache_hits_total" {
			if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 1 {
				t.Errorf("Expected 1 cache hit, got %f", got)
			}
			return
		}
	}
	t.Error("cache_hits_total not found")
}
