package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mxstream"

// Collector 把 Reporter 的统计导出为 Prometheus 指标
type Collector struct {
	reporter Reporter

	bytesDesc        *prometheus.Desc
	rateDesc         *prometheus.Desc
	channelBytesDesc *prometheus.Desc
	framesDesc       *prometheus.Desc
	openDesc         *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector 创建 Collector
func NewCollector(reporter Reporter) *Collector {
	return &Collector{
		reporter: reporter,
		bytesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "transport", "bytes_total"),
			"Bytes written to or read from the transport, frame headers included.",
			[]string{"direction"}, nil,
		),
		rateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "transport", "bytes_per_second"),
			"Average transport throughput over the last minute.",
			[]string{"direction"}, nil,
		),
		channelBytesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "channel", "content_bytes_total"),
			"Content bytes carried per channel name.",
			[]string{"channel", "direction"}, nil,
		),
		framesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "frames_total"),
			"Frames per control code.",
			[]string{"direction", "code"}, nil,
		),
		openDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "open_channels"),
			"Channels currently open.",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesDesc
	ch <- c.rateDesc
	ch <- c.channelBytesDesc
	ch <- c.framesDesc
	ch <- c.openDesc
}

// Collect 实现 prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	totals := c.reporter.GetBandwidthTotals()
	ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(totals.TotalIn), string(DirIn))
	ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(totals.TotalOut), string(DirOut))
	ch <- prometheus.MustNewConstMetric(c.rateDesc, prometheus.GaugeValue, totals.RateIn, string(DirIn))
	ch <- prometheus.MustNewConstMetric(c.rateDesc, prometheus.GaugeValue, totals.RateOut, string(DirOut))

	for name, s := range c.reporter.GetBandwidthByChannel() {
		ch <- prometheus.MustNewConstMetric(c.channelBytesDesc, prometheus.CounterValue, float64(s.TotalIn), name, string(DirIn))
		ch <- prometheus.MustNewConstMetric(c.channelBytesDesc, prometheus.CounterValue, float64(s.TotalOut), name, string(DirOut))
	}

	for k, n := range c.reporter.FrameCounts() {
		ch <- prometheus.MustNewConstMetric(c.framesDesc, prometheus.CounterValue, float64(n), string(k.Direction), k.Code)
	}

	ch <- prometheus.MustNewConstMetric(c.openDesc, prometheus.GaugeValue, float64(c.reporter.OpenChannels()))
}
