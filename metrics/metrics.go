// Package metrics keeps named counters and gauges for a storage instance.
package metrics

import (
	"sync"
	"time"
)

// MetricType represents different types of metrics
type MetricType int

const (
	Counter MetricType = iota
	Gauge
)

// Metric describes a registered metric.
type Metric struct {
	Name        string
	Type        MetricType
	Description string
}

// MetricValue is the current value of a metric.
type MetricValue struct {
	Value     int64
	Timestamp time.Time
}

// Registry stores and manages metrics
type Registry struct {
	metrics map[string]Metric
	values  map[string]MetricValue
	mu      sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]Metric),
		values:  make(map[string]MetricValue),
	}
}

func (r *Registry) Register(metric Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[metric.Name] = metric
}

// Add increases a counter. Unknown names and gauges are ignored.
func (r *Registry) Add(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if metric, ok := r.metrics[name]; ok && metric.Type == Counter {
		v := r.values[name]
		r.values[name] = MetricValue{
			Value:     v.Value + delta,
			Timestamp: time.Now(),
		}
	}
}

// Set replaces the value of a gauge. Unknown names and counters are ignored.
func (r *Registry) Set(name string, value int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if metric, ok := r.metrics[name]; ok && metric.Type == Gauge {
		r.values[name] = MetricValue{
			Value:     value,
			Timestamp: time.Now(),
		}
	}
}

// Value returns the current value of name, zero if it was never recorded.
func (r *Registry) Value(name string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values[name].Value
}

func (r *Registry) GetMetrics() map[string]MetricValue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]MetricValue, len(r.values))
	for name, value := range r.values {
		result[name] = value
	}
	return result
}

// Describe returns the registered metric called name.
func (r *Registry) Describe(name string) (Metric, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[name]
	return m, ok
}
