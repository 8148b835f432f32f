package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a Recorder as Prometheus metrics.
type Collector struct {
	rec   *Recorder
	total *prometheus.Desc
	mean  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for rec. Register it with
// prometheus.MustRegister or a custom registry.
func NewCollector(namespace string, rec *Recorder) *Collector {
	return &Collector{
		rec: rec,
		total: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "crypto", "operations_total"),
			"Number of completed cryptographic operations.",
			[]string{"op"}, nil),
		mean: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "crypto", "operation_mean_seconds"),
			"Running mean latency of cryptographic operations.",
			[]string{"op"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.mean
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.rec.Snapshot()
	emit := func(op Op, n uint64, avg time.Duration) {
		ch <- prometheus.MustNewConstMetric(c.total, prometheus.CounterValue, float64(n), op.String())
		ch <- prometheus.MustNewConstMetric(c.mean, prometheus.GaugeValue, avg.Seconds(), op.String())
	}
	emit(OpEncrypt, s.TotalEncryptions, s.AvgEncryptionTime)
	emit(OpDecrypt, s.TotalDecryptions, s.AvgDecryptionTime)
	emit(OpSign, s.TotalSignatures, s.AvgSignatureTime)
	emit(OpVerify, s.TotalVerifications, s.AvgVerificationTime)
}
