package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/shallowclouds/gpush/config"
)

var (
	compiledTimeString string
	version            string
)

func newApp() *cli.App {
	return &cli.App{
		Name:        "gpush",
		Usage:       "push metrics to Graphite over the pickle protocol",
		Version:     fmt.Sprintf("\ngit version: %s\nbuild time: %s", version, compiledTimeString),
		Description: fmt.Sprintf("Asynchronous Graphite pickle client and network latency monitor, build %s", version),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "--config /path/to/config/file",
				EnvVars: []string{
					"CONFIG_FILE",
				},
				Value: "conf/config.yaml",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "panic, fatal, error, warn, info, debug or trace",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "info",
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := logrus.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			if configFile := ctx.String("config"); configFile != "" {
				config.SetConfigFilePath(configFile)
			}
			return nil
		},
		Commands: []*cli.Command{
			pushCommand(),
			monitorCommand(),
			listenCommand(),
		},
		Authors: []*cli.Author{
			{
				Name:  "Yorling",
				Email: "ishallowcloud@gmail.com",
			},
		},
		UseShortOptionHandling: true,
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("failed to run commands")
	}
}
