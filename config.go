package jelling

import (
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AdvertiserConfig configures the sending side.
type AdvertiserConfig struct {
	Enable    bool `yaml:"enable" json:"enable"`
	Verbose   bool `yaml:"verbose" json:"verbose"`
	BlockICMP bool `yaml:"block_icmp" json:"block_icmp"`

	IntervalMin uint32 `yaml:"interval_min" json:"interval_min"` // N * 0.625 msec
	IntervalMax uint32 `yaml:"interval_max" json:"interval_max"` // N * 0.625 msec
	Duration    uint16 `yaml:"duration" json:"duration"`         // N * 10 msec, 0: no expiration
	MaxEvents   uint8  `yaml:"max_events" json:"max_events"`     // 0: no limit
}

// ScannerConfig configures the receiving side.
type ScannerConfig struct {
	Enable  bool `yaml:"enable" json:"enable"`
	Verbose bool `yaml:"verbose" json:"verbose"`

	Interval         uint16 `yaml:"interval" json:"interval"` // N * 0.625 msec
	Window           uint16 `yaml:"window" json:"window"`     // N * 0.625 msec
	Duration         uint16 `yaml:"duration" json:"duration"` // N * 10 msec, 0: until stopped
	Period           uint16 `yaml:"period" json:"period"`     // N * 1.28 sec, 0: continuous
	Limited          bool   `yaml:"limited" json:"limited"`
	FilterDuplicates bool   `yaml:"filter_duplicates" json:"filter_duplicates"`
}

// Config is the running configuration of a session.
type Config struct {
	Advertiser AdvertiserConfig `yaml:"advertiser" json:"advertiser"`
	Scanner    ScannerConfig    `yaml:"scanner" json:"scanner"`

	// Filter holds up to FilterSize sender addresses. When non-empty only
	// reports of these senders are reassembled.
	Filter []Addr `yaml:"filter" json:"filter"`

	DuplicateDetection bool `yaml:"duplicate_detection" json:"duplicate_detection"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Advertiser: AdvertiserConfig{
			Enable:      true,
			IntervalMin: DefaultAdvItvlMin,
			IntervalMax: DefaultAdvItvlMax,
			Duration:    DefaultAdvDuration,
			MaxEvents:   DefaultAdvMaxEvents,
		},
		Scanner: ScannerConfig{
			Enable:           true,
			Interval:         DefaultScanItvl,
			Window:           DefaultScanWindow,
			Duration:         DefaultScanDuration,
			Period:           DefaultScanPeriod,
			FilterDuplicates: true,
		},
	}
}

// LoadConfig reads a YAML file. Missing keys keep their default values.
func LoadConfig(filename string) (Config, error) {
	c := DefaultConfig()
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		return c, errors.Wrap(err, "can't read config")
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, errors.Wrapf(err, "can't parse config %s", filename)
	}
	return c, c.Validate()
}

// Validate checks the ranges of the configuration.
func (c Config) Validate() error {
	switch {
	case len(c.Filter) > FilterSize:
		return errors.Wrapf(ErrInvalidConfig, "%d filter entries, at most %d", len(c.Filter), FilterSize)
	case c.Advertiser.IntervalMin > c.Advertiser.IntervalMax:
		return errors.Wrapf(ErrInvalidConfig, "advertising interval min 0x%X > max 0x%X",
			c.Advertiser.IntervalMin, c.Advertiser.IntervalMax)
	case c.Advertiser.IntervalMin < 0x20 || c.Advertiser.IntervalMax > 0xFFFFFF:
		return errors.Wrap(ErrInvalidConfig, "advertising interval out of range")
	case c.Scanner.Interval < 0x04 || c.Scanner.Window < 0x04:
		return errors.Wrap(ErrInvalidConfig, "scan interval or window out of range")
	case c.Scanner.Window > c.Scanner.Interval:
		return errors.Wrapf(ErrInvalidConfig, "scan window 0x%X > interval 0x%X",
			c.Scanner.Window, c.Scanner.Interval)
	}
	return nil
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	if c.Filter != nil {
		c.Filter = append([]Addr(nil), c.Filter...)
	}
	return c
}

// Allowed reports whether reports of sender pass the address filter.
func (c Config) Allowed(sender Addr) bool {
	if len(c.Filter) == 0 {
		return true
	}
	for _, a := range c.Filter {
		if a == sender {
			return true
		}
	}
	return false
}

// AddFilter adds a to the address filter. Adding a present address is a no-op.
func (c *Config) AddFilter(a Addr) error {
	for _, f := range c.Filter {
		if f == a {
			return nil
		}
	}
	if len(c.Filter) >= FilterSize {
		return errors.Wrap(ErrFilterFull, a.String())
	}
	c.Filter = append(c.Filter, a)
	return nil
}

// AdvParams returns the instance parameters of the configuration.
func (c Config) AdvParams() AdvParams {
	return AdvParams{
		IntervalMin: c.Advertiser.IntervalMin,
		IntervalMax: c.Advertiser.IntervalMax,
		TxPower:     127,
	}
}

// ScanParams returns the scanner parameters of the configuration.
func (c Config) ScanParams() ScanParams {
	return ScanParams{
		Interval:         c.Scanner.Interval,
		Window:           c.Scanner.Window,
		Duration:         c.Scanner.Duration,
		Period:           c.Scanner.Period,
		Passive:          true,
		Limited:          c.Scanner.Limited,
		FilterDuplicates: c.Scanner.FilterDuplicates,
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// String returns a human readable dump of the configuration.
func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Advertiser:\n")
	fmt.Fprintf(&b, "  enable:     %s\n", onOff(c.Advertiser.Enable))
	fmt.Fprintf(&b, "  verbose:    %s\n", onOff(c.Advertiser.Verbose))
	fmt.Fprintf(&b, "  block icmp: %s\n", onOff(c.Advertiser.BlockICMP))
	fmt.Fprintf(&b, "  interval:   0x%X - 0x%X\n", c.Advertiser.IntervalMin, c.Advertiser.IntervalMax)
	fmt.Fprintf(&b, "  duration:   %d\n", c.Advertiser.Duration)
	fmt.Fprintf(&b, "  max events: %d\n", c.Advertiser.MaxEvents)
	fmt.Fprintf(&b, "Scanner:\n")
	fmt.Fprintf(&b, "  enable:     %s\n", onOff(c.Scanner.Enable))
	fmt.Fprintf(&b, "  verbose:    %s\n", onOff(c.Scanner.Verbose))
	fmt.Fprintf(&b, "  interval:   0x%X\n", c.Scanner.Interval)
	fmt.Fprintf(&b, "  window:     0x%X\n", c.Scanner.Window)
	fmt.Fprintf(&b, "  duration:   %d\n", c.Scanner.Duration)
	fmt.Fprintf(&b, "  period:     %d\n", c.Scanner.Period)
	fmt.Fprintf(&b, "  limited:    %s\n", onOff(c.Scanner.Limited))
	fmt.Fprintf(&b, "  filter dup: %s\n", onOff(c.Scanner.FilterDuplicates))
	fmt.Fprintf(&b, "Filter:")
	if len(c.Filter) == 0 {
		fmt.Fprintf(&b, " empty")
	}
	fmt.Fprintf(&b, "\n")
	for i, a := range c.Filter {
		fmt.Fprintf(&b, "  [%d] %s\n", i, a)
	}
	fmt.Fprintf(&b, "Duplicate detection: %s\n", onOff(c.DuplicateDetection))
	return b.String()
}

// YAML encodes the configuration in the format read by LoadConfig.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
