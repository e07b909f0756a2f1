package graphite

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// stats are the pusher's own delivery metrics.
type stats struct {
	sent            prometheus.Counter
	requeued        prometheus.Counter
	dropped         prometheus.Counter
	writeFailures   prometheus.Counter
	connectFailures prometheus.Counter
	pending         prometheus.GaugeFunc
}

func newStats(collector string, q *Queue, reg prometheus.Registerer) (*stats, error) {
	labels := prometheus.Labels{"collector": collector}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "gpush",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	s := &stats{
		sent:            counter("samples_sent_total", "Samples written to the collector."),
		requeued:        counter("samples_requeued_total", "Samples returned to the queue after a failed write."),
		dropped:         counter("samples_dropped_total", "Samples discarded because they could not be encoded."),
		writeFailures:   counter("write_failures_total", "Failed writes to the collector."),
		connectFailures: counter("connect_failures_total", "Failed attempts to resolve or connect to the collector."),
		pending: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "gpush",
			Name:        "samples_pending",
			Help:        "Samples queued or in flight.",
			ConstLabels: labels,
		}, func() float64 { return float64(q.Pending()) }),
	}

	if reg == nil {
		return s, nil
	}
	for _, c := range []prometheus.Collector{s.sent, s.requeued, s.dropped, s.writeFailures, s.connectFailures, s.pending} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register pusher metrics")
		}
	}
	return s, nil
}
