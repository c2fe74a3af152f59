package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCollector_Export 测试导出 Prometheus 指标
func TestCollector_Export(t *testing.T) {
	bwc := NewBandwidthCounter()
	bwc.LogSentMessage(109)
	bwc.LogRecvMessage(13)
	bwc.LogSentMessageChannel(100, "foo")
	bwc.LogFrame(DirOut, "Content")
	bwc.LogFrame(DirIn, "ContentProcessed")
	bwc.ChannelOpened()

	c := NewCollector(bwc)

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(c))

	families, err := registry.Gather()
	require.NoError(t, err)

	byName := make(map[string]int)
	for _, f := range families {
		byName[f.GetName()] = len(f.GetMetric())
	}
	assert.Equal(t, 2, byName["mxstream_transport_bytes_total"])
	assert.Equal(t, 2, byName["mxstream_transport_bytes_per_second"])
	assert.Equal(t, 2, byName["mxstream_channel_content_bytes_total"])
	assert.Equal(t, 2, byName["mxstream_frames_total"])
	assert.Equal(t, 1, byName["mxstream_open_channels"])

	// 4 个传输指标 + 2 个通道指标 + 2 个帧指标 + 1 个通道数
	assert.Equal(t, 9, testutil.CollectAndCount(c))
}
