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

package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ubports/mmsd/log"
	"launchpad.net/go-xdg"
)

const preferencesPath = "mmsd/preferences.json"

// ErrNoPreferredContext is returned when no context was chosen for a modem.
var ErrNoPreferredContext = errors.New("no preferred context")

type apnOverride struct {
	MMSC  string `json:"mmsc,omitempty"`
	Proxy string `json:"proxy,omitempty"`
	Port  string `json:"port,omitempty"`
}

type preferences struct {
	// modem identity to context object path
	PreferredContexts map[string]string `json:"preferredContexts"`
	APN               apnOverride       `json:"apn"`
}

// Preferences persists user choices: the preferred MMS context per modem
// and an optional access point override. It satisfies apn.Preferences.
type Preferences struct {
	path string
	mu   sync.Mutex
}

func NewPreferences(filePath string) *Preferences {
	return &Preferences{path: filePath}
}

// DefaultPreferences uses the xdg config location.
func DefaultPreferences() (*Preferences, error) {
	p, err := xdg.Config.Ensure(preferencesPath)
	if err != nil {
		return nil, err
	}
	return NewPreferences(p), nil
}

func (p *Preferences) SetPreferredContext(identity, objectPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefs := p.read()
	prefs.PreferredContexts[identity] = objectPath
	return p.write(prefs)
}

func (p *Preferences) PreferredContext(identity string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if path, ok := p.read().PreferredContexts[identity]; ok && path != "" {
		return path, nil
	}
	return "", fmt.Errorf("%s: %w", identity, ErrNoPreferredContext)
}

// SetAPNOverride stores user provided access point values; an empty mmsc
// clears the override.
func (p *Preferences) SetAPNOverride(mmsc, proxy, port string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefs := p.read()
	prefs.APN = apnOverride{MMSC: mmsc, Proxy: proxy, Port: port}
	if mmsc == "" {
		prefs.APN = apnOverride{}
	}
	return p.write(prefs)
}

func (p *Preferences) APNOverride() (mmsc, proxy, port string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o := p.read().APN
	return o.MMSC, o.Proxy, o.Port
}

func (p *Preferences) read() preferences {
	prefs := preferences{}
	if f, err := os.Open(p.path); err == nil {
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&prefs); err != nil {
			log.Warnf("Cannot read preferences from %s: %v", p.path, err)
		}
	}
	if prefs.PreferredContexts == nil {
		prefs.PreferredContexts = make(map[string]string)
	}
	return prefs
}

func (p *Preferences) write(prefs preferences) (err error) {
	file, err := os.Create(p.path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(p.path)
		}
	}()
	w := bufio.NewWriter(file)
	if err := json.NewEncoder(w).Encode(prefs); err != nil {
		return err
	}
	return w.Flush()
}
