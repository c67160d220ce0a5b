package artifact

import "github.com/prometheus/client_golang/prometheus"

// Collectors exports the store counters as prometheus counter funcs.
func (s *CachedStore) Collectors() []prometheus.Collector {
	counter := func(name, help string, read func(MetricsSnapshot) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "skeleton",
			Subsystem: "store",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(s.Metrics())) })
	}
	return []prometheus.Collector{
		counter("blob_hits_total", "Artifact bodies served from memory.", func(m MetricsSnapshot) uint64 { return m.BlobHits }),
		counter("blob_misses_total", "Artifact body reads that missed memory.", func(m MetricsSnapshot) uint64 { return m.BlobMisses }),
		counter("origin_exists_total", "Existence checks sent to the object store.", func(m MetricsSnapshot) uint64 { return m.OriginExists }),
		counter("origin_reads_total", "Reads sent to the object store.", func(m MetricsSnapshot) uint64 { return m.OriginReads }),
		counter("origin_writes_total", "Writes sent to the object store.", func(m MetricsSnapshot) uint64 { return m.OriginWrites }),
		counter("origin_lists_total", "Listings sent to the object store.", func(m MetricsSnapshot) uint64 { return m.OriginLists }),
		counter("origin_deletes_total", "Deletes sent to the object store.", func(m MetricsSnapshot) uint64 { return m.OriginDeletes }),
		counter("origin_read_errors_total", "Failed object store reads.", func(m MetricsSnapshot) uint64 { return m.OriginReadErr }),
		counter("origin_write_errors_total", "Failed object store writes.", func(m MetricsSnapshot) uint64 { return m.OriginWriteErr }),
	}
}
