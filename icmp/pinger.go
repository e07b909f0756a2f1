package icmp

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ping/ping"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shallowclouds/gpush/metric"
)

// Monitor sends ICMP echo requests to a host and pushes latency samples.
type Monitor struct {
	from, to string
	host     string
	prefix   string
	interval time.Duration
	timeout  time.Duration
	client   metric.Client

	// received counts echo replies of the current run.
	received atomic.Int64

	mu     sync.Mutex
	pinger *ping.Pinger
}

// NewMonitor creates an ICMP network monitor.
// `host` is the target hostname need to test.
// `from` is the name of this server, used as a path node, defaults to the hostname.
// `to` is the name of target host, used as a path node, defaults to `host`.
// `prefix` is prepended to every metric path.
// `interval` specifies the time interval to send ICMP packets.
// `timeout` specifies the time to end the loop, 0 for infinite.
// `client` receives the samples.
func NewMonitor(host, from, to, prefix string, interval, timeout time.Duration, client metric.Client) (*Monitor, error) {
	if host == "" {
		return nil, errors.New("empty target host")
	}
	if client == nil {
		return nil, errors.New("nil metric client")
	}

	var err error
	if from == "" {
		from, err = os.Hostname()
		if err != nil {
			logrus.WithError(err).Warn("get hostname err")
			from = "localhost"
		}
	}
	if to == "" {
		to = host
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &Monitor{
		from:     from,
		to:       to,
		host:     host,
		prefix:   prefix,
		interval: interval,
		timeout:  timeout,
		client:   client,
	}, nil
}

func (m *Monitor) path(field string) string {
	return metric.Path(m.prefix, "icmp", m.from, m.to, field)
}

// Start pings the target until Stop is called, ctx is done or the timeout
// expires.
func (m *Monitor) Start(ctx context.Context) error {
	pinger, err := ping.NewPinger(m.host)
	if err != nil {
		return errors.WithMessage(err, "failed to create pinger")
	}

	if m.timeout != 0 {
		pinger.Timeout = m.timeout
	}
	pinger.Interval = m.interval
	// True for ICMP
	pinger.SetPrivileged(true)
	pinger.Size = 64

	// Packets carry no send time, so it is derived from the sequence number.
	startTime := time.Now()
	pinger.OnRecv = func(packet *ping.Packet) {
		m.record(startTime.Add(time.Duration(packet.Seq)*m.interval), packet)
	}

	m.mu.Lock()
	m.pinger = pinger
	m.mu.Unlock()
	if ctx.Err() != nil {
		return nil
	}

	m.received.Store(0)
	done := make(chan struct{})
	defer close(done)
	go m.countSent(ctx, done)

	if err := pinger.Run(); err != nil {
		return errors.WithMessage(err, "failed to run pinger")
	}
	return nil
}

func (m *Monitor) record(sent time.Time, packet *ping.Packet) {
	m.received.Add(1)
	logrus.WithFields(logrus.Fields{
		"rtt":    packet.Rtt,
		"nbytes": packet.Nbytes,
		"seq":    packet.Seq,
		"ttl":    packet.Ttl,
	}).Debug("recv ICMP packet")

	m.client.PushTime(m.path("rtt_ms"), sent, float64(packet.Rtt)/float64(time.Millisecond))
	m.client.PushTime(m.path("ttl"), sent, float64(packet.Ttl))
}

// countSent pushes one `sent` sample per interval along with the packet
// loss. The pinger sends once on start and once per interval, so at the k-th
// tick k packets have had a full interval to be answered.
func (m *Monitor) countSent(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	var settled int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case t := <-ticker.C:
			settled++
			m.client.PushTime(m.path("sent"), t, 1)
			if loss, ok := m.lossPct(settled); ok {
				m.client.PushTime(m.path("loss_pct"), t, loss)
			}
		}
	}
}

// lossPct is the share of settled packets without a reply, in [0, 100].
func (m *Monitor) lossPct(settled int64) (float64, bool) {
	if settled <= 0 {
		return 0, false
	}
	lost := settled - m.received.Load()
	if lost < 0 {
		lost = 0
	}
	return float64(lost) / float64(settled) * 100, true
}

func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pinger == nil {
		return nil
	}
	m.pinger.Stop()
	return nil
}

func (m *Monitor) Name() string {
	return fmt.Sprintf("<%s>-<%s>", m.from, m.to)
}
