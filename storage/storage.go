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

// Package storage keeps MMS message records and their PDUs on disk.
package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ubports/mmsd/log"
	"launchpad.net/go-xdg"
)

const SUBPATH = "mmsd/store"

const (
	recordExt = ".db"
	pduExt    = ".pdu"
)

// ErrNotFound is returned for an unknown message id.
var ErrNotFound = errors.New("message not found")

// ErrInvalidID is returned for ids FileStore could not have issued.
var ErrInvalidID = errors.New("invalid message id")

// Store is the message content store requests read from and report to.
type Store interface {
	Insert(values Values) (string, error)
	Update(id string, values Values) error
	Query(id string) (Values, error)
	Delete(id string) error
	ReadPDU(id string) ([]byte, error)
	WritePDU(id string, data []byte) error
}

// FileStore keeps one json record and one PDU file per message in Dir.
type FileStore struct {
	Dir string
	mu  sync.Mutex
}

// NewFileStore returns a store rooted at dir, or at the xdg data location
// when dir is empty.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		p, err := xdg.Data.Ensure(path.Join(SUBPATH, "README"))
		if err != nil {
			return nil, err
		}
		dir = filepath.Dir(p)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &FileStore{Dir: dir}, nil
}

// file maps id to its file. Only ids in the canonical uuid form Insert
// hands out are accepted, anything else could name a path outside Dir.
func (s *FileStore) file(id, ext string) (string, error) {
	if u, err := uuid.Parse(id); err != nil || u.String() != id {
		return "", fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	return filepath.Join(s.Dir, id+ext), nil
}

// Insert stores a new record under a fresh id.
func (s *FileStore) Insert(values Values) (string, error) {
	id := uuid.NewString()
	p, err := s.file(id, recordExt)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeRecord(p, values); err != nil {
		return "", err
	}
	return id, nil
}

// Update merges values into the record of id. The record is left as it
// was if the new one cannot be written.
func (s *FileStore) Update(id string, values Values) error {
	p, err := s.file(id, recordExt)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := readRecord(p)
	if err != nil {
		return err
	}
	record.Merge(values)
	return writeRecord(p, record)
}

func (s *FileStore) Query(id string) (Values, error) {
	p, err := s.file(id, recordExt)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return readRecord(p)
}

// Delete removes the record and its PDU.
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := Multierror{}
	for _, ext := range []string{recordExt, pduExt} {
		p, err := s.file(id, ext)
		if err != nil {
			return err
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, ErrorRemovingFile{p, err})
		}
	}
	return errs.Result()
}

func (s *FileStore) ReadPDU(id string) ([]byte, error) {
	p, err := s.file(id, pduExt)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("pdu of %s: %w", id, ErrNotFound)
	}
	return data, err
}

// WritePDU replaces the PDU of an existing record.
func (s *FileStore) WritePDU(id string, data []byte) error {
	record, err := s.file(id, recordExt)
	if err != nil {
		return err
	}
	p, _ := s.file(id, pduExt)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(record); err != nil {
		return fmt.Errorf("pdu of %s: %w", id, ErrNotFound)
	}
	return replaceFile(p, func(w *bufio.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// IDs lists the ids of every stored record.
func (s *FileStore) IDs() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*"+recordExt))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), recordExt))
	}
	return ids, nil
}

func readRecord(storePath string) (Values, error) {
	f, err := os.Open(storePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", strings.TrimSuffix(filepath.Base(storePath), recordExt), ErrNotFound)
	} else if err != nil {
		return nil, err
	}
	defer f.Close()
	values := Values{}
	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, err
	}
	return values, nil
}

func writeRecord(storePath string, values Values) error {
	return replaceFile(storePath, func(w *bufio.Writer) error {
		return json.NewEncoder(w).Encode(values)
	})
}

// replaceFile writes a sibling temporary file and renames it over
// storePath, so readers see either the old or the new content.
func replaceFile(storePath string, write func(w *bufio.Writer) error) (err error) {
	tmp := storePath + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			log.Warnf("Discarding partially written %s: %v", tmp, err)
			os.Remove(tmp)
		}
	}()
	w := bufio.NewWriter(file)
	if err = write(w); err == nil {
		err = w.Flush()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp, storePath)
}
