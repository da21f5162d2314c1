/*
 * Copyright 2014 Canonical Ltd.
 *
 * This file is part of mmsd.
 *
 * mmsd is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; version 3.
 *
 * mmsd is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package config holds the MMS behaviour parameters a carrier may tune:
// size limits, timeouts, user agent and the extra HTTP header template.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ubports/mmsd/log"
	"gopkg.in/yaml.v3"
	"launchpad.net/go-xdg"
)

const SUBPATH = "mmsd/mms_config.yaml"

// Keys accepted in per request override bags. They match the yaml keys.
const (
	KeyMaxMessageSize    = "maxMessageSize"
	KeyHTTPSocketTimeout = "httpSocketTimeout"
	KeyUserAgent         = "userAgent"
	KeyUaProfTagName     = "uaProfTagName"
	KeyUaProfURL         = "uaProfUrl"
	KeyHTTPParams        = "httpParams"
	KeyTransIDEnabled    = "enabledTransID"
	KeyNaiSuffix         = "naiSuffix"
	KeyMMSEnabled        = "enabledMMS"
)

const (
	DefaultMaxMessageSize    = 300 * 1024
	DefaultHTTPSocketTimeout = 60 * 1000
	DefaultUserAgent         = "Android-Mms/2.0"
	DefaultUaProfTagName     = "x-wap-profile"
)

// Config is the merged MMS configuration. HTTPSocketTimeout is in
// milliseconds to keep carrier provided values verbatim.
type Config struct {
	MaxMessageSize    int    `yaml:"maxMessageSize"`
	HTTPSocketTimeout int    `yaml:"httpSocketTimeout"`
	UserAgent         string `yaml:"userAgent"`
	UaProfTagName     string `yaml:"uaProfTagName"`
	UaProfURL         string `yaml:"uaProfUrl"`
	HTTPParams        string `yaml:"httpParams"`
	TransIDEnabled    bool   `yaml:"enabledTransID"`
	NaiSuffix         string `yaml:"naiSuffix"`
	MMSEnabled        bool   `yaml:"enabledMMS"`
}

// Error reports a configuration that could not be loaded or merged.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("mms config: %v", e.Err)
	}
	return fmt.Sprintf("mms config: %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Defaults() *Config {
	return &Config{
		MaxMessageSize:    DefaultMaxMessageSize,
		HTTPSocketTimeout: DefaultHTTPSocketTimeout,
		UserAgent:         DefaultUserAgent,
		UaProfTagName:     DefaultUaProfTagName,
		MMSEnabled:        true,
	}
}

// SocketTimeout returns HTTPSocketTimeout as a duration.
func (c *Config) SocketTimeout() time.Duration {
	return time.Duration(c.HTTPSocketTimeout) * time.Millisecond
}

func (c *Config) validate() error {
	if c.MaxMessageSize <= 0 {
		return &Error{KeyMaxMessageSize, fmt.Errorf("must be positive, got %d", c.MaxMessageSize)}
	}
	if c.HTTPSocketTimeout <= 0 {
		return &Error{KeyHTTPSocketTimeout, fmt.Errorf("must be positive, got %d", c.HTTPSocketTimeout)}
	}
	return nil
}

// Parse decodes yaml on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &Error{Err: err}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the file at filePath; a missing file yields the defaults.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		log.Debugf("No mms config at %s, using defaults", filePath)
		return Defaults(), nil
	} else if err != nil {
		return nil, &Error{Err: err}
	}
	return Parse(data)
}

// DefaultPath returns the xdg location of the configuration file. It is
// not required to exist.
func DefaultPath() (string, error) {
	if p, err := xdg.Config.Find(SUBPATH); err == nil {
		return p, nil
	}
	return xdg.Config.Ensure(SUBPATH)
}

// Merge returns a copy of c with overrides applied. Unknown keys are
// ignored, malformed values fail the whole merge.
func (c *Config) Merge(overrides map[string]string) (*Config, error) {
	merged := *c
	for key, value := range overrides {
		var err error
		switch key {
		case KeyMaxMessageSize:
			merged.MaxMessageSize, err = strconv.Atoi(value)
		case KeyHTTPSocketTimeout:
			merged.HTTPSocketTimeout, err = strconv.Atoi(value)
		case KeyUserAgent:
			merged.UserAgent = value
		case KeyUaProfTagName:
			merged.UaProfTagName = value
		case KeyUaProfURL:
			merged.UaProfURL = value
		case KeyHTTPParams:
			merged.HTTPParams = value
		case KeyTransIDEnabled:
			merged.TransIDEnabled, err = strconv.ParseBool(value)
		case KeyNaiSuffix:
			merged.NaiSuffix = value
		case KeyMMSEnabled:
			merged.MMSEnabled, err = strconv.ParseBool(value)
		default:
			log.Debugf("Ignoring unknown mms config override %s", key)
		}
		if err != nil {
			return nil, &Error{key, err}
		}
	}
	if err := merged.validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

// Loader produces the merged configuration for one network operation.
type Loader interface {
	Load(overrides map[string]string) (*Config, error)
}

// FileLoader reads FilePath on every Load so edits apply to the next
// operation without a restart.
type FileLoader struct {
	FilePath string
}

func (l FileLoader) Load(overrides map[string]string) (*Config, error) {
	cfg, err := Load(l.FilePath)
	if err != nil {
		return nil, err
	}
	return cfg.Merge(overrides)
}

// Static always merges onto the same base configuration.
type Static struct {
	Base *Config
}

func (s Static) Load(overrides map[string]string) (*Config, error) {
	if s.Base == nil {
		return nil, &Error{Err: errors.New("no base configuration")}
	}
	return s.Base.Merge(overrides)
}
