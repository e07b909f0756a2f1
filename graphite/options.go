package graphite

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	DefaultFrequency    = 60.0
	DefaultPollInterval = 100 * time.Millisecond
)

type options struct {
	frequency    float64
	pollInterval time.Duration
	dialTimeout  time.Duration
	logger       logrus.FieldLogger
	registerer   prometheus.Registerer
	resolver     Resolver
	dialer       Dialer
}

// Option customizes a Pusher.
type Option func(*options)

// WithFrequency sets the number of dispatch cycles per minute.
func WithFrequency(frequency float64) Option {
	return func(o *options) { o.frequency = frequency }
}

// WithPollInterval sets how often Shutdown checks for pending samples.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithDialTimeout bounds each connection attempt. Zero leaves it to the OS.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers the pusher's delivery metrics.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

func WithResolver(r Resolver) Option {
	return func(o *options) { o.resolver = r }
}

func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}
