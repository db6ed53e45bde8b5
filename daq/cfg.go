// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-lpc/aesop/tracker"
)

// Config is the configuration file of an acquisition process.
type Config struct {
	Tracker Serial `toml:"tracker"` // serial link to the tracker
	Command Serial `toml:"command"` // command link from the host
	Console Serial `toml:"console"` // direct command link, optional

	EEPROM  string `toml:"eeprom"`  // configuration memory image
	I2C     int    `toml:"i2c"`     // I2C bus of the threshold DACs
	Output  string `toml:"output"`  // output file, stdout when empty
	Control string `toml:"control"` // address of the control server, disabled when empty

	MQTT MQTT     `toml:"mqtt"`
	DAQ  Settings `toml:"daq"`
}

// Serial describes a serial port.
type Serial struct {
	Name string `toml:"name"`
	Baud int    `toml:"baud"`
}

// MQTT describes the broker receiving the housekeeping records.
type MQTT struct {
	Broker   string `toml:"broker"` // disabled when empty
	Topic    string `toml:"topic"`  // topic prefix
	ClientID string `toml:"client-id"`
}

// Settings holds the acquisition settings.
type Settings struct {
	Boards         int      `toml:"boards"`
	ReadTracker    bool     `toml:"read-tracker"`
	CommandTimeout Duration `toml:"command-timeout"`
	TrackerTimeout Duration `toml:"tracker-timeout"`
	TrackerRetries int      `toml:"tracker-retries"`
	StrictLayers   bool     `toml:"strict-layers"`
	DebugTOF       bool     `toml:"debug-tof"`
	CRCCheck       bool     `toml:"crc-check"`
	Housekeeping   uint32   `toml:"housekeeping"` // period in seconds, 0 to disable
}

// Duration is a time.Duration written as a string, e.g. "150ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(p []byte) error {
	v, err := time.ParseDuration(string(p))
	if err != nil {
		return fmt.Errorf("daq: could not parse duration %q: %w", p, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultConfig returns the configuration of the flight instrument.
func DefaultConfig() Config {
	return Config{
		Tracker: Serial{Name: "/dev/ttyS1", Baud: 115200},
		Command: Serial{Name: "/dev/ttyS0", Baud: 19200},
		EEPROM:  "/var/lib/aesop/eeprom.bin",
		I2C:     1,
		MQTT: MQTT{
			Topic:    "aesop",
			ClientID: "aesop-daq",
		},
		DAQ: Settings{
			Boards:         8,
			ReadTracker:    true,
			CommandTimeout: Duration{5 * time.Second},
			TrackerTimeout: Duration{155 * time.Millisecond},
			TrackerRetries: 3,
		},
	}
}

// LoadConfig reads the configuration file fname.
// Settings missing from the file keep their DefaultConfig value.
func LoadConfig(fname string) (Config, error) {
	f, err := os.Open(fname)
	if err != nil {
		return Config{}, fmt.Errorf("daq: could not open config file: %w", err)
	}
	defer f.Close()

	cfg, err := DecodeConfig(f)
	if err != nil {
		return cfg, fmt.Errorf("daq: could not load %q: %w", fname, err)
	}
	return cfg, nil
}

// DecodeConfig reads a configuration in TOML format from r.
func DecodeConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return cfg, fmt.Errorf("daq: could not decode config: %w", err)
	}
	if keys := meta.Undecoded(); len(keys) > 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return cfg, fmt.Errorf("daq: unknown config keys: %s", strings.Join(names, ", "))
	}
	if cfg.DAQ.Boards < 0 || cfg.DAQ.Boards > tracker.MaxBoards {
		return cfg, fmt.Errorf("daq: invalid number of tracker boards %d", cfg.DAQ.Boards)
	}
	return cfg, nil
}

// Options returns the device options matching the acquisition settings.
func (cfg Config) Options() []Option {
	return []Option{
		WithBoards(cfg.DAQ.Boards),
		WithReadTracker(cfg.DAQ.ReadTracker),
		WithCommandTimeout(cfg.DAQ.CommandTimeout.Duration),
		WithTrackerTimeout(cfg.DAQ.TrackerTimeout.Duration, cfg.DAQ.TrackerRetries),
		WithStrictLayers(cfg.DAQ.StrictLayers),
		WithDebugTOF(cfg.DAQ.DebugTOF),
		WithCRCCheck(cfg.DAQ.CRCCheck),
		WithHousekeeping(cfg.DAQ.Housekeeping),
	}
}
