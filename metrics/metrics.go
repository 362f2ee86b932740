// Package metrics exports engine activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmorganca/speedtest/api"
)

const namespace = "speedtest"

func newCounterVec(subsystem, name, help string, labelNames ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labelNames)
}

func newGaugeVec(subsystem, name, help string, labelNames ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labelNames)
}

// Collector counts tests and the bytes they move. It observes engine
// events and is registered with a prometheus.Registerer.
type Collector struct {
	tests   *prometheus.CounterVec
	bytes   *prometheus.CounterVec
	running *prometheus.GaugeVec
	mbps    *prometheus.GaugeVec
}

func New() *Collector {
	return &Collector{
		tests:   newCounterVec("tests", "total", "Tests ended, by kind and outcome.", "kind", "outcome"),
		bytes:   newCounterVec("tests", "bytes_total", "Bytes moved by finished tests.", "kind"),
		running: newGaugeVec("tests", "running", "Tests currently running.", "kind"),
		mbps:    newGaugeVec("tests", "last_avg_mbps", "Average throughput of the last finished test.", "kind"),
	}
}

func (c *Collector) Observe(ev api.Event) {
	kind := string(ev.Kind)
	switch ev.Type {
	case api.EventStarted:
		c.running.WithLabelValues(kind).Inc()
	case api.EventFinished:
		outcome := "finished"
		if ev.Finished.Canceled {
			outcome = "canceled"
		}

		c.running.WithLabelValues(kind).Dec()
		c.tests.WithLabelValues(kind, outcome).Inc()
		c.bytes.WithLabelValues(kind).Add(float64(ev.Finished.TotalBytes))
		c.mbps.WithLabelValues(kind).Set(ev.Finished.AvgMbps)
	case api.EventError:
		c.running.WithLabelValues(kind).Dec()
		c.tests.WithLabelValues(kind, "error").Inc()
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.tests.Describe(ch)
	c.bytes.Describe(ch)
	c.running.Describe(ch)
	c.mbps.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.tests.Collect(ch)
	c.bytes.Collect(ch)
	c.running.Collect(ch)
	c.mbps.Collect(ch)
}
