package tmstorage

import "github.com/davidvella/tmstorage/metrics"

const (
	metricCommits     = "transactions_committed_total"
	metricRollbacks   = "transactions_rolled_back_total"
	metricStorageSize = "storage_size_bytes"
	metricStreams     = "streams"
	metricOpenStreams = "open_streams"
)

// Statistics is a snapshot of storage activity since Open.
type Statistics struct {
	StorageSize            int64
	BytesRead              int64
	BytesWritten           int64
	TotalStreamCount       int
	OpenStreamCount        int
	TransactionsCommitted  int64
	TransactionsRolledBack int64
}

func registerStorageMetrics(r *metrics.Registry) {
	r.Register(metrics.Metric{Name: metricCommits, Type: metrics.Counter, Description: "Committed transactions"})
	r.Register(metrics.Metric{Name: metricRollbacks, Type: metrics.Counter, Description: "Rolled back transactions"})
	r.Register(metrics.Metric{Name: metricStorageSize, Type: metrics.Gauge, Description: "Size of the medium in bytes"})
	r.Register(metrics.Metric{Name: metricStreams, Type: metrics.Gauge, Description: "Streams in the stream table"})
	r.Register(metrics.Metric{Name: metricOpenStreams, Type: metrics.Gauge, Description: "Streams currently open"})
}

// Statistics returns current counters. System streams are not counted.
func (s *Storage) Statistics() (Statistics, error) {
	if s.closed {
		return Statistics{}, ErrStorageClosed
	}

	size, err := s.master.Size()
	if err != nil {
		return Statistics{}, err
	}

	streams := 0
	for id := range s.table.items {
		if !IsReserved(id) {
			streams++
		}
	}

	s.registry.Set(metricStorageSize, size)
	s.registry.Set(metricStreams, int64(streams))
	s.registry.Set(metricOpenStreams, int64(len(s.open.live())))

	return Statistics{
		StorageSize:            s.registry.Value(metricStorageSize),
		BytesRead:              s.registry.Value(metricBytesRead),
		BytesWritten:           s.registry.Value(metricBytesWritten),
		TotalStreamCount:       int(s.registry.Value(metricStreams)),
		OpenStreamCount:        int(s.registry.Value(metricOpenStreams)),
		TransactionsCommitted:  s.registry.Value(metricCommits),
		TransactionsRolledBack: s.registry.Value(metricRollbacks),
	}, nil
}

// Metrics returns every recorded metric by name.
func (s *Storage) Metrics() map[string]metrics.MetricValue {
	return s.registry.GetMetrics()
}
