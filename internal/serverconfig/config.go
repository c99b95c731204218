// Package serverconfig loads this server's YAML configuration through
// go-ucfg, unpacked into the flat option set a single-protocol server
// needs rather than a generic nested config tree.
package serverconfig

import (
	"fmt"

	"github.com/elastic/go-ucfg"
	"github.com/elastic/go-ucfg/yaml"
	"github.com/hashicorp/go-multierror"

	"bufproto/internal/applog"
)

// Options is the complete set of server options, unpacked directly from
// YAML via go-ucfg struct tags.
type Options struct {
	Host  string `config:"host"`
	Port  int    `config:"port"`
	Debug bool   `config:"debug"`

	MaxHeaderBytes  int   `config:"maxHeaderBytes"`
	MaxFramePayload int64 `config:"maxFramePayload"`

	// Write-queue watermarks. A zero HighWatermark means both transport
	// defaults apply; otherwise both values are used as given.
	LowWatermark  int `config:"lowWatermark"`
	HighWatermark int `config:"highWatermark"`

	Log applog.Options `config:"log"`
}

// Default returns the option set the server runs with when no config file
// is given.
func Default() Options {
	return Options{
		Host: "127.0.0.1",
		Port: 8000,
		Log: applog.Options{
			Stdout: true,
			Level:  string(applog.LevelInfo),
		},
	}
}

// Load reads and unpacks the YAML file at path on top of Default().
func Load(path string) (Options, error) {
	opt := Default()
	if path == "" {
		return opt, nil
	}

	cfg, err := yaml.NewConfigWithFile(path, ucfg.PathSep("."))
	if err != nil {
		return Options{}, err
	}
	if err := cfg.Unpack(&opt); err != nil {
		return Options{}, err
	}
	if err := opt.Validate(); err != nil {
		return Options{}, err
	}
	return opt, nil
}

// Validate collects every malformed option at once, so an operator fixing
// a config file sees the whole list in one pass instead of one error per
// edit-reload cycle.
func (o Options) Validate() error {
	var errs *multierror.Error
	if o.Host == "" {
		errs = multierror.Append(errs, fmt.Errorf("host must not be empty"))
	}
	if o.Port <= 0 || o.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("port %d out of range", o.Port))
	}
	if o.MaxHeaderBytes < 0 {
		errs = multierror.Append(errs, fmt.Errorf("maxHeaderBytes must not be negative"))
	}
	if o.MaxFramePayload < 0 {
		errs = multierror.Append(errs, fmt.Errorf("maxFramePayload must not be negative"))
	}
	if o.LowWatermark < 0 || o.HighWatermark < 0 {
		errs = multierror.Append(errs, fmt.Errorf("watermarks must not be negative"))
	}
	if o.HighWatermark > 0 && o.LowWatermark > o.HighWatermark {
		errs = multierror.Append(errs, fmt.Errorf("lowWatermark %d exceeds highWatermark %d", o.LowWatermark, o.HighWatermark))
	}
	return errs.ErrorOrNil()
}
