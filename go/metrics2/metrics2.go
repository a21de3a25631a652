// Package metrics2 provides prometheus-backed application metrics with a
// simple get-or-create API keyed by measurement name and tags.
package metrics2

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// invalidChar is used to force metric and tag names to conform to
// Prometheus's restrictions.
var invalidChar = regexp.MustCompile("([^a-zA-Z0-9_:])")

func clean(s string) string {
	return invalidChar.ReplaceAllLiteralString(s, "_")
}

// Counter is a monotonically increasing metric that can also be read back,
// which the prometheus client library does not support directly.
type Counter interface {
	Inc(i int64)
	Get() int64
	Reset()
}

type promCounter struct {
	i     int64
	gauge prometheus.Gauge
}

func (c *promCounter) Inc(i int64) {
	c.gauge.Add(float64(i))
	atomic.AddInt64(&c.i, i)
}

func (c *promCounter) Get() int64 {
	return atomic.LoadInt64(&c.i)
}

func (c *promCounter) Reset() {
	atomic.StoreInt64(&c.i, 0)
	c.gauge.Set(0)
}

var (
	mutex    sync.Mutex
	counters = map[string]*promCounter{}
)

// key builds a stable identifier for a measurement and its tags.
func key(measurement string, tags map[string]string) string {
	parts := make([]string, 0, len(tags)+1)
	parts = append(parts, clean(measurement))
	for k, v := range tags {
		parts = append(parts, clean(k)+"="+clean(v))
	}
	sort.Strings(parts[1:])
	return strings.Join(parts, ";")
}

// GetCounter creates or retrieves a Counter with the given name and tags.
func GetCounter(measurement string, tags ...map[string]string) Counter {
	allTags := map[string]string{}
	for _, t := range tags {
		for k, v := range t {
			allTags[clean(k)] = v
		}
	}
	mutex.Lock()
	defer mutex.Unlock()
	k := key(measurement, allTags)
	if c, ok := counters[k]; ok {
		return c
	}
	c := &promCounter{
		gauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        clean(measurement),
			ConstLabels: prometheus.Labels(allTags),
		}),
	}
	counters[k] = c
	return c
}
