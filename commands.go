package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/shallowclouds/gpush/config"
	"github.com/shallowclouds/gpush/graphite"
	"github.com/shallowclouds/gpush/icmp"
	"github.com/shallowclouds/gpush/loop"
)

const drainTimeout = 10 * time.Second

func pushCommand() *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "push a single sample and wait until it is delivered",
		ArgsUsage: "<path> <value>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: "localhost", Usage: "collector host"},
			&cli.IntFlag{Name: "port", Value: 2004, Usage: "collector pickle port"},
			&cli.Float64Flag{Name: "frequency", Value: graphite.DefaultFrequency, Usage: "flush cycles per minute"},
			&cli.Int64Flag{Name: "timestamp", Usage: "unix timestamp of the sample, defaults to now"},
			&cli.DurationFlag{Name: "timeout", Value: drainTimeout, Usage: "give up delivering after this long"},
		},
		Action: pushAction,
	}
}

func pushAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("expected <path> <value>")
	}
	path := c.Args().Get(0)
	value, err := strconv.ParseFloat(c.Args().Get(1), 64)
	if err != nil {
		return errors.WithMessage(err, "invalid value")
	}
	ts := c.Int64("timestamp")
	if ts < math.MinInt32 || ts > math.MaxInt32 {
		return errors.Errorf("timestamp %d does not fit in 32 bits", ts)
	}

	pusher, err := graphite.New(c.String("host"), c.Int("port"), graphite.WithFrequency(c.Float64("frequency")))
	if err != nil {
		return err
	}
	if err := pusher.Start(); err != nil {
		return err
	}
	defer pusher.Stop()

	if c.IsSet("timestamp") {
		pusher.PushAt(path, int32(ts), value)
	} else {
		pusher.Push(path, value)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()
	return pusher.Shutdown(ctx)
}

func monitorCommand() *cli.Command {
	return &cli.Command{
		Name:   "monitor",
		Usage:  "ping the configured targets and push latency samples",
		Action: monitorAction,
	}
}

func monitorAction(_ *cli.Context) error {
	conf := config.Config()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pusher, err := graphite.New(conf.Graphite.Host, conf.Graphite.Port,
		graphite.WithFrequency(conf.Graphite.Frequency),
		graphite.WithDialTimeout(conf.Graphite.DialTimeout),
		graphite.WithRegisterer(reg),
	)
	if err != nil {
		return errors.WithMessage(err, "failed to create graphite pusher")
	}
	if err := pusher.Start(); err != nil {
		return err
	}

	if conf.MetricsAddr != "" {
		srv := &http.Server{Addr: conf.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Error("metrics endpoint failed")
			}
		}()
		defer srv.Close()
	}

	runners := make([]loop.Runner, 0, len(conf.Targets))
	for _, t := range conf.Targets {
		monitor, err := icmp.NewMonitor(t.Host, conf.Hostname, t.Name, conf.Prefix, conf.Interval, 0, pusher)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"target_host": t.Host,
				"target_name": t.Name,
			}).Error("failed to create monitor, skipped")
			continue
		}
		runners = append(runners, monitor)
	}

	if err := loop.Loop(context.Background(), runners); err != nil && err != loop.ErrInterrupt {
		logrus.WithError(err).Error("monitor loop failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := pusher.Shutdown(ctx); err != nil {
		logrus.WithError(err).WithField("pending", pusher.Pending()).Warn("exiting with undelivered samples")
		pusher.Stop()
	}
	logrus.Info("bye~")
	return nil
}

func listenCommand() *cli.Command {
	return &cli.Command{
		Name:  "listen",
		Usage: "accept pickle connections and print received samples in plaintext format",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":2004", Usage: "listen address"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", c.String("addr"))
			if err != nil {
				return errors.WithMessage(err, "failed to listen")
			}
			logrus.WithField("addr", ln.Addr().String()).Info("listening for pickle messages")
			return serve(ctx, ln, c.App.Writer)
		},
	}
}

// serve prints every sample received on ln as "path value timestamp" lines
// until ctx is done.
func serve(ctx context.Context, ln net.Listener, out io.Writer) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	p := &printer{out: out}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.WithMessage(err, "failed to accept")
		}
		go receive(conn, p)
	}
}

type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) print(samples []graphite.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range samples {
		fmt.Fprintf(p.out, "%s %v %d\n", s.Path, s.Value, s.Timestamp)
	}
}

func receive(conn net.Conn, p *printer) {
	defer conn.Close()
	log := logrus.WithField("remote", conn.RemoteAddr().String())
	for {
		samples, err := graphite.ReadMessage(conn)
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Warn("dropping connection")
			}
			return
		}
		log.WithField("samples", len(samples)).Debug("received message")
		p.print(samples)
	}
}
