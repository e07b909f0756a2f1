package config

import (
	"math"
	"sync"
	"time"

	"github.com/jinzhu/configor"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Target struct {
	Host string `yaml:"Host"`
	Name string `yaml:"Name"`
}

// Graphite is the collector the pusher forwards samples to.
type Graphite struct {
	Host string `yaml:"Host" default:"localhost"`
	Port int    `yaml:"Port" default:"2004"`
	// Frequency is the number of flush cycles per minute.
	Frequency float64 `yaml:"Frequency" default:"60"`
	// DialTimeout bounds each connection attempt, 0 leaves it to the OS.
	DialTimeout time.Duration `yaml:"DialTimeout"`
}

type configStruct struct {
	Hostname string `yaml:"Hostname"`
	// Prefix is prepended to every metric path.
	Prefix      string        `yaml:"Prefix" default:"gpush"`
	Interval    time.Duration `yaml:"Interval" default:"1s"`
	MetricsAddr string        `yaml:"MetricsAddr"`
	Graphite    Graphite      `yaml:"Graphite"`
	Targets     []Target      `yaml:"Targets"`
}

var (
	configFilePath string
	initConfigOnce sync.Once
	config         *configStruct
)

func SetConfigFilePath(filepath string) {
	configFilePath = filepath
}

// Config loads the configuration once, exiting the process if it is invalid.
func Config() *configStruct {
	initConfigOnce.Do(func() {
		var err error
		if config, err = Load(configFilePath, "conf/config.yml"); err != nil {
			logrus.WithError(err).Fatal("failed to load config from file")
		}
	})
	return config
}

// Load reads the first existing files (later ones take lower priority),
// applies defaults and validates the result. Empty paths are skipped.
func Load(files ...string) (*configStruct, error) {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		if f != "" {
			paths = append(paths, f)
		}
	}

	c := new(configStruct)
	if err := configor.New(&configor.Config{ENVPrefix: "GPUSH"}).Load(c, paths...); err != nil {
		return nil, errors.WithMessage(err, "load config")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *configStruct) validate() error {
	if c.Graphite.Host == "" {
		return errors.New("Graphite.Host is required")
	}
	if c.Graphite.Port < 1 || c.Graphite.Port > 65535 {
		return errors.Errorf("Graphite.Port %d out of range 1-65535", c.Graphite.Port)
	}
	if f := c.Graphite.Frequency; f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return errors.Errorf("Graphite.Frequency must be > 0, got %v", f)
	}
	if c.Interval <= 0 {
		return errors.Errorf("Interval must be > 0, got %v", c.Interval)
	}
	for i, t := range c.Targets {
		if t.Host == "" {
			return errors.Errorf("Targets[%d].Host is required", i)
		}
	}
	return nil
}
