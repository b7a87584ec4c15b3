// config.go - Sphinx relay and tool configuration.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config provides the Sphinx relay and tool configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/net/idna"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/hpqc/nike/schemes"

	"github.com/katzenpost/sphinxheader/core/log"
	"github.com/katzenpost/sphinxheader/core/sphinx"
	"github.com/katzenpost/sphinxheader/core/sphinx/constants"
	"github.com/katzenpost/sphinxheader/core/sphinx/geo"
)

const (
	defaultLogLevel         = "NOTICE"
	defaultPrivateKeyFile   = "relay.private.pem"
	defaultPublicKeyFile    = "relay.public.pem"
	defaultQueueLength      = 64
	defaultReplayFilterSize = 24 // 2 MiB, about 1.16 million entries.
	defaultReplayFilterRate = 0.001

	// minReplayFilterSize and maxReplayFilterSize bound the log2 of the
	// replay filter size in bits.
	minReplayFilterSize = 10
	maxReplayFilterSize = 32
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	if lCfg.Level == "" {
		lCfg.Level = defaultLogLevel
	}
	if _, err := log.ParseLevel(lCfg.Level); err != nil {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = strings.ToUpper(lCfg.Level) // Force uppercase.
	return nil
}

// Sphinx is the Sphinx header configuration.
type Sphinx struct {
	// NIKE is the name of the NIKE scheme used for the header group
	// element.
	NIKE string

	// NrHops is the maximum number of hops a header can carry.
	NrHops int
}

func (sCfg *Sphinx) applyDefaults() {
	if sCfg.NIKE == "" {
		sCfg.NIKE = constants.DefaultNIKE
	}
	if sCfg.NrHops == 0 {
		sCfg.NrHops = constants.DefaultNrHops
	}
}

func (sCfg *Sphinx) validate() error {
	if schemes.ByName(sCfg.NIKE) == nil {
		return fmt.Errorf("config: Sphinx: NIKE '%v' is not supported", sCfg.NIKE)
	}
	if sCfg.NrHops < 1 {
		return fmt.Errorf("config: Sphinx: NrHops %d is invalid", sCfg.NrHops)
	}
	return nil
}

// Geometry returns the header geometry described by the section.
func (sCfg *Sphinx) Geometry() *geo.Geometry {
	return geo.GeometryFromNrHops(schemes.ByName(sCfg.NIKE), sCfg.NrHops)
}

// Relay is the relay configuration.
type Relay struct {
	// Identifier is the human readable identifier for the relay (eg: FQDN).
	Identifier string

	// DataDir is the absolute path to the relay's state files.
	DataDir string

	// PrivateKeyFile is the PEM file holding the relay's NIKE private key,
	// relative to DataDir.
	PrivateKeyFile string

	// PublicKeyFile is the PEM file holding the relay's NIKE public key,
	// relative to DataDir.
	PublicKeyFile string

	// NumWorkers specifies the number of header processing workers.
	NumWorkers int

	// QueueLength is the capacity of the inbound header queue.
	QueueLength int

	// ReplayFilterSize is the log2 of the replay filter size in bits.
	ReplayFilterSize int

	// ReplayFilterRate is the replay filter's acceptable false positive
	// rate.
	ReplayFilterRate float64

	// ReplayDB is the database persisting replay tags across restarts,
	// relative to DataDir.  If empty, only the in-memory filter is used.
	ReplayDB string

	// MetricsAddress is the address/port to bind the prometheus metrics
	// endpoint to.  If empty, metrics are not served.
	MetricsAddress string
}

func (rCfg *Relay) applyDefaults() {
	if rCfg.PrivateKeyFile == "" {
		rCfg.PrivateKeyFile = defaultPrivateKeyFile
	}
	if rCfg.PublicKeyFile == "" {
		rCfg.PublicKeyFile = defaultPublicKeyFile
	}
	if rCfg.NumWorkers <= 0 {
		rCfg.NumWorkers = runtime.NumCPU()
	}
	if rCfg.QueueLength <= 0 {
		rCfg.QueueLength = defaultQueueLength
	}
	if rCfg.ReplayFilterSize == 0 {
		rCfg.ReplayFilterSize = defaultReplayFilterSize
	}
	if rCfg.ReplayFilterRate == 0 {
		rCfg.ReplayFilterRate = defaultReplayFilterRate
	}
}

func (rCfg *Relay) validate() error {
	if rCfg.Identifier == "" {
		return errors.New("config: Relay: Identifier is not set")
	}
	if !filepath.IsAbs(rCfg.DataDir) {
		return fmt.Errorf("config: Relay: DataDir '%v' is not an absolute path", rCfg.DataDir)
	}
	for _, f := range []string{rCfg.PrivateKeyFile, rCfg.PublicKeyFile, rCfg.ReplayDB} {
		if filepath.IsAbs(f) {
			return fmt.Errorf("config: Relay: '%v' must be relative to DataDir", f)
		}
	}
	if rCfg.ReplayFilterSize < minReplayFilterSize || rCfg.ReplayFilterSize > maxReplayFilterSize {
		return fmt.Errorf("config: Relay: ReplayFilterSize %d is out of range", rCfg.ReplayFilterSize)
	}
	if rCfg.ReplayFilterRate <= 0 || rCfg.ReplayFilterRate >= 1 {
		return fmt.Errorf("config: Relay: ReplayFilterRate %v is out of range", rCfg.ReplayFilterRate)
	}
	return nil
}

// Path returns the absolute path of the file f in the relay's DataDir.
func (rCfg *Relay) Path(f string) string {
	return filepath.Join(rCfg.DataDir, f)
}

// Config is the top level configuration.
type Config struct {
	Logging *Logging
	Sphinx  *Sphinx
	Relay   *Relay

	// SphinxGeometry, if present, must match the geometry the Sphinx
	// section describes.
	SphinxGeometry *geo.Geometry
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}

	if cfg.Sphinx == nil {
		cfg.Sphinx = &Sphinx{}
		if cfg.SphinxGeometry != nil {
			cfg.Sphinx.NIKE = cfg.SphinxGeometry.NIKEName
			cfg.Sphinx.NrHops = cfg.SphinxGeometry.NrHops
		}
	}
	cfg.Sphinx.applyDefaults()
	if err := cfg.Sphinx.validate(); err != nil {
		return err
	}
	if cfg.SphinxGeometry != nil {
		if err := cfg.SphinxGeometry.Validate(); err != nil {
			return err
		}
		if *cfg.SphinxGeometry != *cfg.Sphinx.Geometry() {
			return errors.New("config: SphinxGeometry does not match the Sphinx block")
		}
	}

	// The Relay section is only required by the relay.
	if cfg.Relay != nil {
		cfg.Relay.applyDefaults()
		if err := cfg.Relay.validate(); err != nil {
			return err
		}

		var err error
		cfg.Relay.Identifier, err = idna.Lookup.ToASCII(cfg.Relay.Identifier)
		if err != nil {
			return fmt.Errorf("config: Failed to normalize Identifier: %v", err)
		}
	}
	return nil
}

// NewSphinx returns the Sphinx instance the configuration describes.
func (cfg *Config) NewSphinx() (*sphinx.Sphinx, error) {
	return sphinx.FromGeometry(cfg.Sphinx.Geometry())
}

// Store writes a config to fileName on disk.
func Store(cfg *Config, fileName string) error {
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("No nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
