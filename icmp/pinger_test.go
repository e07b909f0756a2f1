package icmp

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/go-ping/ping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pushed struct {
	path  string
	ts    int32
	value float64
}

type recordingClient struct {
	mu      sync.Mutex
	samples []pushed
}

func (c *recordingClient) Push(path string, value float64) {
	c.PushTime(path, time.Now(), value)
}

func (c *recordingClient) PushAt(path string, ts int32, value float64) {
	c.mu.Lock()
	c.samples = append(c.samples, pushed{path: path, ts: ts, value: value})
	c.mu.Unlock()
}

func (c *recordingClient) PushTime(path string, t time.Time, value float64) {
	c.PushAt(path, int32(t.Unix()), value)
}

func (c *recordingClient) Shutdown(context.Context) error { return nil }

func (c *recordingClient) values(path string) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []float64
	for _, s := range c.samples {
		if s.path == path {
			out = append(out, s.value)
		}
	}
	return out
}

func TestNewMonitor(t *testing.T) {
	client := &recordingClient{}

	_, err := NewMonitor("", "a", "b", "", 0, 0, client)
	require.Error(t, err)

	_, err = NewMonitor("example.com", "a", "b", "", 0, 0, nil)
	require.Error(t, err)

	m, err := NewMonitor("8.8.8.8", "edge", "", "gpush", 0, 0, client)
	require.NoError(t, err)
	assert.Equal(t, time.Second, m.interval)
	assert.Equal(t, "8.8.8.8", m.to)
	assert.Equal(t, "<edge>-<8.8.8.8>", m.Name())
	assert.Equal(t, "gpush.icmp.edge.8_8_8_8.rtt_ms", m.path("rtt_ms"))
}

func TestMonitorRecord(t *testing.T) {
	client := &recordingClient{}
	m, err := NewMonitor("10.0.0.1", "edge", "gw", "", time.Second, 0, client)
	require.NoError(t, err)

	sent := time.Unix(1600000000, 0)
	m.record(sent, &ping.Packet{Rtt: 1500 * time.Microsecond, Seq: 3, Ttl: 64, Nbytes: 64})

	require.Len(t, client.samples, 2)
	assert.Equal(t, pushed{path: "icmp.edge.gw.rtt_ms", ts: 1600000000, value: 1.5}, client.samples[0])
	assert.Equal(t, pushed{path: "icmp.edge.gw.ttl", ts: 1600000000, value: 64}, client.samples[1])
}

func TestMonitorStopBeforeStart(t *testing.T) {
	m, err := NewMonitor("10.0.0.1", "edge", "gw", "", time.Second, 0, &recordingClient{})
	require.NoError(t, err)
	assert.NoError(t, m.Stop())
}

func TestMonitorCountSent(t *testing.T) {
	client := &recordingClient{}
	m, err := NewMonitor("10.0.0.1", "edge", "gw", "", 10*time.Millisecond, 0, client)
	require.NoError(t, err)
	m.record(time.Now(), &ping.Packet{Rtt: time.Millisecond, Seq: 0, Ttl: 64})

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		m.countSent(context.Background(), done)
	}()

	require.Eventually(t, func() bool { return len(client.values("icmp.edge.gw.loss_pct")) >= 2 }, time.Second, 5*time.Millisecond)
	close(done)
	<-exited

	loss := client.values("icmp.edge.gw.loss_pct")
	assert.Equal(t, 0.0, loss[0], "first packet answered")
	assert.Equal(t, 50.0, loss[1], "second packet unanswered")
	for _, v := range loss {
		assert.False(t, math.IsNaN(v))
	}
	assert.Len(t, client.values("icmp.edge.gw.sent"), len(loss))
	for _, v := range client.values("icmp.edge.gw.sent") {
		assert.Equal(t, 1.0, v)
	}
}

func TestMonitorCountSentStopsWithContext(t *testing.T) {
	m, err := NewMonitor("10.0.0.1", "edge", "gw", "", time.Hour, 0, &recordingClient{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.countSent(ctx, make(chan struct{}))
}

func TestMonitorLossPct(t *testing.T) {
	m, err := NewMonitor("10.0.0.1", "edge", "gw", "", time.Second, 0, &recordingClient{})
	require.NoError(t, err)

	_, ok := m.lossPct(0)
	assert.False(t, ok, "nothing sent yet")

	loss, ok := m.lossPct(4)
	require.True(t, ok)
	assert.Equal(t, 100.0, loss)

	for i := 0; i < 5; i++ {
		m.record(time.Now(), &ping.Packet{Seq: i})
	}
	loss, ok = m.lossPct(4)
	require.True(t, ok)
	assert.Equal(t, 0.0, loss, "late replies never make loss negative")
}
