package config

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader resolves a Config from (in ascending priority) built-in defaults,
// a YAML file, and bound command-line flags, the same precedence order the
// teacher's viper-based config loading uses.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a Loader with defaults pre-populated from
// NewWithDefaults.
func NewLoader() *Loader {
	v := viper.New()
	defaults := NewWithDefaults()
	v.SetDefault("subnetList", defaults.SubnetList)
	v.SetDefault("timeouts.pingMs", defaults.Timeouts.PingMs)
	v.SetDefault("timeouts.httpMs", defaults.Timeouts.HTTPMs)
	v.SetDefault("timeouts.probePerPortMs", defaults.Timeouts.ProbePerPortMs)
	v.SetDefault("history.dir", defaults.History.Dir)
	v.SetDefault("history.retention", defaults.History.Retention)
	v.SetDefault("concurrency", defaults.Concurrency)

	v.SetEnvPrefix("NETMAPPER")
	v.AutomaticEnv()

	return &Loader{v: v}
}

// BindFlags binds a cobra/pflag flag set so flag values override both the
// file and the built-in defaults.
func (l *Loader) BindFlags(flags *pflag.FlagSet) error {
	return l.v.BindPFlags(flags)
}

// Load reads path (if non-empty) or, failing that, the default and
// fallback config file locations, then decodes the merged result into a
// Config. A missing config file at every candidate path is not an error:
// defaults and flags alone are a valid configuration for a CLI-only run.
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
	} else {
		l.v.SetConfigName("netmapper")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("/etc/netmapper")
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "reading config file %q", path)
		}
		logrus.Debug("no config file found, using defaults and flags only")
	} else {
		logrus.WithField("file", l.v.ConfigFileUsed()).Debug("loaded config file")
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}

	if len(cfg.SubnetList) == 0 {
		return nil, errors.New("subnetList must contain at least one CIDR")
	}

	return cfg, nil
}
