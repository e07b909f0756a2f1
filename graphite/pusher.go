package graphite

import (
	"context"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shallowclouds/gpush/metric"
)

// Pusher forwards samples to a Graphite collector using the pickle protocol.
// Push calls never block on the network: samples are queued and a single
// dispatcher goroutine sends them once per cycle.
type Pusher struct {
	host         string
	port         int
	pollInterval time.Duration
	log          logrus.FieldLogger
	queue        *Queue
	conn         *connection
	stats        *stats

	mu        sync.Mutex
	frequency float64
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ metric.Client = (*Pusher)(nil)

// New constructs a Pusher for host:port. It does not connect until Start.
func New(host string, port int, opts ...Option) (*Pusher, error) {
	if port < 1 || port > 65535 {
		return nil, errors.Wrapf(ErrInvalidPort, "got %d", port)
	}
	o := options{
		frequency:    DefaultFrequency,
		pollInterval: DefaultPollInterval,
		logger:       logrus.StandardLogger(),
		resolver:     net.DefaultResolver,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !validFrequency(o.frequency) {
		return nil, errors.Wrapf(ErrInvalidFrequency, "got %v", o.frequency)
	}
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}
	if o.dialer == nil {
		o.dialer = &net.Dialer{Timeout: o.dialTimeout}
	}

	log := o.logger.WithFields(logrus.Fields{
		"host": host,
		"port": port,
	})
	queue := NewQueue()
	st, err := newStats(net.JoinHostPort(host, strconv.Itoa(port)), queue, o.registerer)
	if err != nil {
		return nil, err
	}

	return &Pusher{
		host:         host,
		port:         port,
		pollInterval: o.pollInterval,
		log:          log,
		queue:        queue,
		conn:         newConnection(host, port, o.resolver, o.dialer, log),
		stats:        st,
		frequency:    o.frequency,
		done:         make(chan struct{}),
	}, nil
}

// validFrequency also rejects frequencies so high the period truncates to 0.
func validFrequency(f float64) bool {
	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return false
	}
	return time.Duration(float64(time.Minute)/f) >= time.Nanosecond
}

// SetFrequency changes the number of dispatch cycles per minute. It must be
// called before Start.
func (p *Pusher) SetFrequency(frequency float64) error {
	if !validFrequency(frequency) {
		return errors.Wrapf(ErrInvalidFrequency, "got %v", frequency)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	p.frequency = frequency
	return nil
}

// Period is the length of one dispatch cycle.
func (p *Pusher) Period() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(float64(time.Minute) / p.frequency)
}

// Push queues a sample stamped with the current time.
func (p *Pusher) Push(path string, value float64) {
	p.queue.Enqueue(NewSample(path, value))
}

// PushAt queues a sample with an explicit unix timestamp.
func (p *Pusher) PushAt(path string, timestamp int32, value float64) {
	p.queue.Enqueue(Sample{Path: path, Timestamp: timestamp, Value: value})
}

// PushTime queues a sample stamped with t, truncated to seconds.
func (p *Pusher) PushTime(path string, t time.Time, value float64) {
	p.PushAt(path, int32(t.Unix()), value)
}

// Pending returns the number of samples not yet delivered or dropped.
func (p *Pusher) Pending() int {
	return p.queue.Pending()
}

// Start launches the dispatcher. A Pusher can only be started once.
func (p *Pusher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.started = true
	p.cancel = cancel
	go p.run(ctx, time.Duration(float64(time.Minute)/p.frequency))
	return nil
}

// Stop asks the dispatcher to exit after its current cycle and waits for it.
// Queued samples are not sent.
func (p *Pusher) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-p.done
}

// Shutdown waits until every queued sample has been written, then stops the
// dispatcher. If ctx ends first the dispatcher keeps running and ctx's error
// is returned.
func (p *Pusher) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		if p.queue.Pending() == 0 {
			return nil
		}
		return ErrNotStarted
	}

	flushed := func() error {
		n := p.queue.Pending()
		if n == 0 {
			return nil
		}
		select {
		case <-p.done:
			return backoff.Permanent(errors.WithMessage(ErrNotStarted, "dispatcher already stopped"))
		default:
		}
		return errors.Errorf("%d samples pending", n)
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(p.pollInterval), ctx)
	if err := backoff.Retry(flushed, b); err != nil {
		return errors.Wrap(err, "flush pending samples")
	}

	p.Stop()
	return nil
}

func (p *Pusher) run(ctx context.Context, period time.Duration) {
	defer close(p.done)
	defer p.conn.close()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	p.log.WithField("period", period).Info("dispatcher started")
	for {
		p.cycle()

		select {
		case <-ctx.Done():
			p.log.WithField("pending", p.queue.Pending()).Info("dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// cycle runs to completion even if Stop is called meanwhile. Connection
// attempts are bounded by the dial timeout, not by the dispatcher's context.
func (p *Pusher) cycle() {
	if p.conn.State() != Connected {
		if err := p.conn.connect(context.Background()); err != nil {
			p.stats.connectFailures.Inc()
			p.log.WithError(err).Warn("collector unavailable, retrying next cycle")
			return
		}
	}

	batch := p.queue.DrainAll()
	if len(batch) == 0 {
		return
	}
	p.send(batch)
}

// send writes batch in as many messages as needed. On a write failure the
// failed message and everything after it go back to the queue.
func (p *Pusher) send(batch []Sample) {
	chunks := Split(batch, MaxPayloadSize)
	for i, chunk := range chunks {
		msg, err := Encode(chunk)
		if err != nil {
			p.queue.Done(len(chunk))
			p.stats.dropped.Add(float64(len(chunk)))
			p.log.WithError(err).WithField("samples", len(chunk)).Error("dropping samples that cannot be encoded")
			continue
		}

		if err := p.conn.write(msg); err != nil {
			var undelivered []Sample
			for _, rest := range chunks[i:] {
				undelivered = append(undelivered, rest...)
			}
			p.queue.Requeue(undelivered)
			p.stats.writeFailures.Inc()
			p.stats.requeued.Add(float64(len(undelivered)))
			p.log.WithError(err).WithField("samples", len(undelivered)).Error("send failed, requeued samples")
			return
		}

		p.queue.Done(len(chunk))
		p.stats.sent.Add(float64(len(chunk)))
		p.log.WithField("samples", len(chunk)).Debug("sent samples")
	}
}
